// klingnet-cli is a command-line client for interacting with a klingnetd node.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"golang.org/x/term"
)

// keystoreDir returns the keystore path matching klingnetd's layout:
// <datadir>/<network>/keystore
func keystoreDir(dataDir, network string) string {
	return filepath.Join(dataDir, network, "keystore")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := "http://127.0.0.1:8545"
	dataDir := defaultDataDir()
	network := "mainnet"

	// Scan for --rpc, --datadir, and --network before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	// Set address HRP based on network.
	if network == "testnet" || network == "regtest" {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ksDir := keystoreDir(dataDir, network)
	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "block":
		cmdBlock(client, cmdArgs)
	case "tx":
		cmdTx(client, cmdArgs)
	case "send":
		cmdSend(cmdArgs, ksDir, rpcURL)
	case "balance":
		cmdBalance(client, cmdArgs)
	case "mempool":
		cmdMempool(client)
	case "peers":
		cmdPeers(client)
	case "wallet":
		cmdWallet(cmdArgs, ksDir, rpcURL)
	case "mining":
		cmdMining(client, cmdArgs)
	case "generate":
		cmdGenerate(client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingnet-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8545)
  --datadir <path>    Data directory (default: ~/.klingnet)
  --network <net>     mainnet (default), testnet, or regtest

Commands:
  status                          Show chain status
  block <hash|height>             Show block details
  tx <hash>                       Show transaction details
  send --wallet <w> --to <addr> --amount <amt> [--fee-rate <n>]
                                  Build, sign, and broadcast a transaction
  balance <address>               Show address balance
  mempool                         Show mempool stats
  peers                           Show connected peers

  wallet create --name <n>        Generate a new key and store it encrypted
  wallet import --name <n> --key <hex>
                                  Import a raw 32-byte private key (hex)
  wallet list                     List wallets
  wallet address --wallet <w>     Show a wallet's address
  wallet balance [--wallet <w>]   Show wallet balance(s)
  wallet export-key --wallet <w>  Export the raw private key (hex)

  mining gettemplate --address <coinbase>
                                  Get a PoW block template for external mining
  mining submit --block <json_file>
                                  Submit a solved PoW block
  generate --address <addr> --blocks <n>
                                  Mine n blocks paying <addr> (regtest)
`)
}

func defaultDataDir() string {
	return config.DefaultDataDir()
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	var info rpc.ChainInfoResult
	if err := client.GetInfo(&info); err != nil {
		fatal("chain_getInfo: %v", err)
	}

	fmt.Printf("Chain:   %s\n", info.ChainID)
	if info.Symbol != "" {
		fmt.Printf("Symbol:  %s\n", info.Symbol)
	}
	fmt.Printf("Height:  %d\n", info.Height)
	fmt.Printf("Tip:     %s\n", info.TipHash)

	var peers rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &peers); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}
	fmt.Printf("Peers:   %d\n", peers.Count)
}

// ── block ───────────────────────────────────────────────────────────────

func cmdBlock(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli block <hash|height>")
	}

	arg := args[0]
	var blk rpc.BlockResult

	// Try as height first (pure number).
	if height, err := strconv.ParseUint(arg, 10, 32); err == nil {
		if err := client.Call("chain_getBlockByHeight", rpc.HeightParam{Height: uint32(height)}, &blk); err != nil {
			fatal("chain_getBlockByHeight: %v", err)
		}
	} else {
		if err := client.Call("chain_getBlockByHash", rpc.HashParam{Hash: arg}, &blk); err != nil {
			fatal("chain_getBlockByHash: %v", err)
		}
	}

	fmt.Printf("Hash:         %s\n", blk.Hash)
	if blk.Header != nil {
		fmt.Printf("Prev:         %s\n", blk.Header.PrevHash)
		fmt.Printf("Merkle Root:  %s\n", blk.Header.MerkleRoot)
		ts := time.Unix(int64(blk.Header.Timestamp), 0).UTC()
		fmt.Printf("Timestamp:    %s\n", ts.Format("2006-01-02 15:04:05 UTC"))
		fmt.Printf("Bits:         %08x\n", blk.Header.Bits)
		fmt.Printf("Nonce:        %d\n", blk.Header.Nonce)
	}
	fmt.Printf("Transactions: %d\n", len(blk.Transactions))
}

// ── tx ──────────────────────────────────────────────────────────────────

func cmdTx(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli tx <hash>")
	}

	var result rpc.TxResult
	if err := client.Call("chain_getTransaction", rpc.HashParam{Hash: args[0]}, &result); err != nil {
		fatal("chain_getTransaction: %v", err)
	}

	fmt.Printf("Hash:    %s\n", result.Hash)
	fmt.Printf("Inputs:  %d\n", len(result.Inputs))
	for i, in := range result.Inputs {
		fmt.Printf("  [%d] %s\n", i, in.PrevOut.String())
	}
	fmt.Printf("Outputs: %d\n", len(result.Outputs))
	for i, out := range result.Outputs {
		addr, err := out.Script.Address()
		if err != nil {
			fmt.Printf("  [%d] %s -> (unparseable script)\n", i, formatAmount(out.Value))
			continue
		}
		fmt.Printf("  [%d] %s -> %s\n", i, formatAmount(out.Value), addr.String())
	}
}

// ── send ────────────────────────────────────────────────────────────────

func cmdSend(args []string, ksDir, rpcURL string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	toAddr := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount to send (e.g. 1.5)")
	feeRate := fs.Uint64("fee-rate", 0, "Fee rate in base units per byte (default: node minimum)")
	fs.Parse(args)

	if *walletName == "" || *toAddr == "" || *amountStr == "" {
		fatal("Usage: klingnet-cli send --wallet <name> --to <addr> --amount <amt> [--fee-rate <n>]")
	}

	amount, err := parseAmount(*amountStr)
	if err != nil {
		fatal("invalid amount: %v", err)
	}

	recipientAddr, err := types.ParseAddress(*toAddr)
	if err != nil {
		fatal("invalid recipient address: %v", err)
	}
	if net := types.AddressNetwork(*toAddr); net != "" && net != types.ActiveAddressNetwork() {
		fatal("recipient address is a %s address, this wallet is on %s", net, types.ActiveAddressNetwork())
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	key, err := ks.Load(*walletName, password)
	if err != nil {
		fatal("load wallet: %v", err)
	}
	fromAddr := crypto.AddressFromPubKey(key.PublicKey())

	client := rpcclient.New(rpcURL)

	rate := *feeRate
	if rate == 0 {
		var mpInfo rpc.MempoolInfoResult
		if err := client.Call("mempool_getInfo", nil, &mpInfo); err != nil {
			fatal("mempool_getInfo: %v", err)
		}
		rate = mpInfo.MinFeeRate
	}

	var utxoList rpc.UTXOListResult
	if err := client.Call("utxo_getByAddress", rpc.AddressParam{Address: fromAddr.String()}, &utxoList); err != nil {
		fatal("utxo_getByAddress: %v", err)
	}
	if len(utxoList.UTXOs) == 0 {
		fatal("no spendable UTXOs for %s", fromAddr.String())
	}

	spendable := make([]wallet.UTXO, 0, len(utxoList.UTXOs))
	for _, u := range utxoList.UTXOs {
		spendable = append(spendable, wallet.UTXO{Outpoint: u.Outpoint, Value: u.Value, Script: u.Script})
	}

	// Estimate fee assuming a 2-output transaction (recipient + change),
	// then resolve the actual input count via coin selection.
	var selection *wallet.CoinSelection
	target := amount
	for i := 0; i < 4; i++ {
		selection, err = wallet.SelectCoins(spendable, target)
		if err != nil {
			fatal("select coins: %v", err)
		}
		fee := tx.EstimateTxFee(len(selection.Inputs), 2, rate)
		newTarget := amount + fee
		if newTarget == target {
			break
		}
		target = newTarget
	}

	builder := tx.NewBuilder()
	for _, in := range selection.Inputs {
		builder.AddInput(in.Outpoint)
	}
	builder.AddOutput(amount, types.P2PKHScript(recipientAddr))
	fee := tx.EstimateTxFee(len(selection.Inputs), 2, rate)
	change := selection.Total - amount - fee
	if change > 0 {
		builder.AddOutput(change, types.P2PKHScript(fromAddr))
	}

	if err := builder.Sign(key); err != nil {
		fatal("sign transaction: %v", err)
	}
	built := builder.Build()

	var result rpc.TxSubmitResult
	if err := client.Call("tx_submit", rpc.TxSubmitParam{Transaction: built}, &result); err != nil {
		fatal("tx_submit: %v", err)
	}

	fmt.Printf("Submitted: %s\n", result.TxHash)
	fmt.Printf("  Amount: %s KGX\n", formatAmount(amount))
	fmt.Printf("  Fee:    %s KGX\n", formatAmount(fee))
}

// ── balance ─────────────────────────────────────────────────────────────

func cmdBalance(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli balance <address>")
	}

	addr := args[0]
	var result rpc.BalanceResult
	if err := client.GetBalance(addr, &result); err != nil {
		fatal("utxo_getBalance: %v", err)
	}

	fmt.Printf("Address:   %s\n", result.Address)
	fmt.Printf("Spendable: %s KGX\n", formatAmount(result.Spendable))
	if result.Balance != result.Spendable {
		fmt.Printf("Total:     %s KGX\n", formatAmount(result.Balance))
		if result.Immature > 0 {
			fmt.Printf("Immature:  %s KGX\n", formatAmount(result.Immature))
		}
	}
}

// ── mempool ─────────────────────────────────────────────────────────────

func cmdMempool(client *rpcclient.Client) {
	var info rpc.MempoolInfoResult
	if err := client.Call("mempool_getInfo", nil, &info); err != nil {
		fatal("mempool_getInfo: %v", err)
	}

	fmt.Printf("Count:   %d\n", info.Count)
	fmt.Printf("Bytes:   %d\n", info.Bytes)
	fmt.Printf("Min Fee Rate: %d per byte\n", info.MinFeeRate)

	if info.Count > 0 {
		var content rpc.MempoolContentResult
		if err := client.Call("mempool_getContent", nil, &content); err != nil {
			fatal("mempool_getContent: %v", err)
		}
		fmt.Println("Pending:")
		for _, h := range content.Hashes {
			fmt.Printf("  %s\n", h)
		}
	}
}

// ── peers ───────────────────────────────────────────────────────────────

func cmdPeers(client *rpcclient.Client) {
	var node rpc.NodeInfoResult
	if err := client.Call("net_getNodeInfo", nil, &node); err != nil {
		fatal("net_getNodeInfo: %v", err)
	}

	fmt.Printf("Node ID: %s\n", node.ID)
	for _, a := range node.Addrs {
		fmt.Printf("  Listen: %s\n", a)
	}

	var peers rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &peers); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}

	fmt.Printf("Peers:   %d\n", peers.Count)
	for _, p := range peers.Peers {
		fmt.Printf("  %s (connected: %s)\n", p.ID, p.ConnectedAt)
	}
}

// ── wallet ──────────────────────────────────────────────────────────────

func cmdWallet(args []string, ksDir, rpcURL string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli wallet <create|import|list|address|balance|export-key> [flags]")
	}

	switch args[0] {
	case "create":
		cmdWalletCreate(args[1:], ksDir)
	case "import":
		cmdWalletImport(args[1:], ksDir)
	case "list":
		cmdWalletList(ksDir)
	case "address":
		cmdWalletAddress(args[1:], ksDir)
	case "balance":
		cmdWalletBalance(args[1:], ksDir, rpcURL)
	case "export-key":
		cmdWalletExportKey(args[1:], ksDir)
	default:
		fatal("Unknown wallet command: %s\nUsage: klingnet-cli wallet <create|import|list|address|balance|export-key> [flags]", args[0])
	}
}

func cmdWalletCreate(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet create", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: klingnet-cli wallet create --name <name>")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		fatal("generate key: %v", err)
	}
	defer key.Zero()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("create keystore: %v", err)
	}
	if err := ks.Create(*name, key, password, wallet.DefaultParams()); err != nil {
		fatal("create wallet: %v", err)
	}

	fmt.Printf("Wallet created: %s\n", *name)
	fmt.Printf("Address: %s\n", addr.String())
}

func cmdWalletImport(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet import", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	keyHex := fs.String("key", "", "Raw private key, 32-byte hex")
	fs.Parse(args)

	if *name == "" || *keyHex == "" {
		fatal("Usage: klingnet-cli wallet import --name <name> --key <hex>")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil {
		fatal("invalid key hex: %v", err)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		fatal("invalid private key: %v", err)
	}
	defer key.Zero()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("create keystore: %v", err)
	}
	if err := ks.Create(*name, key, password, wallet.DefaultParams()); err != nil {
		fatal("create wallet: %v", err)
	}

	fmt.Printf("Wallet imported: %s\n", *name)
	fmt.Printf("Address: %s\n", addr.String())
}

func cmdWalletList(ksDir string) {
	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	names, err := ks.List()
	if err != nil {
		fatal("list wallets: %v", err)
	}

	if len(names) == 0 {
		fmt.Println("No wallets found.")
		return
	}

	for _, name := range names {
		fmt.Println(name)
	}
}

func cmdWalletAddress(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet address", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: klingnet-cli wallet address --wallet <name>")
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	addr, err := ks.Address(*walletName)
	if err != nil {
		fatal("read address: %v", err)
	}

	fmt.Println(addr)
}

func cmdWalletBalance(args []string, ksDir, rpcURL string) {
	fs := flag.NewFlagSet("wallet balance", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name (omit for all wallets)")
	fs.Parse(args)

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	var walletNames []string
	if *walletName != "" {
		walletNames = []string{*walletName}
	} else {
		walletNames, err = ks.List()
		if err != nil {
			fatal("list wallets: %v", err)
		}
	}

	if len(walletNames) == 0 {
		fmt.Println("No wallets found.")
		return
	}

	client := rpcclient.New(rpcURL)
	var grandTotal, grandSpendable uint64

	for _, name := range walletNames {
		addr, err := ks.Address(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to read wallet %q: %v\n", name, err)
			continue
		}

		var result rpc.BalanceResult
		if err := client.Call("utxo_getBalance", rpc.AddressParam{Address: addr}, &result); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to get balance for %s: %v\n", addr, err)
			continue
		}

		fmt.Printf("%s  %s  spendable=%s KGX", name, addr, formatAmount(result.Spendable))
		if result.Balance != result.Spendable {
			fmt.Printf(" (total=%s KGX", formatAmount(result.Balance))
			if result.Immature > 0 {
				fmt.Printf(", immature=%s", formatAmount(result.Immature))
			}
			fmt.Printf(")")
		}
		fmt.Println()

		grandTotal += result.Balance
		grandSpendable += result.Spendable
	}

	if len(walletNames) > 1 {
		fmt.Printf("\nGrand Spendable: %s KGX\n", formatAmount(grandSpendable))
		if grandTotal != grandSpendable {
			fmt.Printf("Grand Total: %s KGX\n", formatAmount(grandTotal))
		}
	}
}

func cmdWalletExportKey(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet export-key", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	output := fs.String("output", "", "Output file path (default: print to stdout)")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: klingnet-cli wallet export-key --wallet <name> [--output path]")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	key, err := ks.Load(*walletName, password)
	if err != nil {
		fatal("load wallet: %v", err)
	}
	defer key.Zero()

	raw := key.Serialize()
	privHex := hex.EncodeToString(raw)
	for i := range raw {
		raw[i] = 0
	}

	addr := crypto.AddressFromPubKey(key.PublicKey())

	if *output == "" {
		fmt.Printf("Address:     %s\n", addr.String())
		fmt.Printf("Private Key: %s\n", privHex)
		return
	}

	if err := os.WriteFile(*output, []byte(privHex+"\n"), 0600); err != nil {
		fatal("write key file: %v", err)
	}
	fmt.Printf("Exported key to: %s\n", *output)
	fmt.Printf("  Address: %s\n", addr.String())
}

// ── mining ───────────────────────────────────────────────────────────────

func cmdMining(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli mining <gettemplate|submit> [flags]")
	}

	switch args[0] {
	case "gettemplate":
		cmdMiningGetTemplate(client, args[1:])
	case "submit":
		cmdMiningSubmit(client, args[1:])
	default:
		fatal("Unknown mining command: %s\nUsage: klingnet-cli mining <gettemplate|submit> [flags]", args[0])
	}
}

func cmdMiningGetTemplate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("mining gettemplate", flag.ExitOnError)
	address := fs.String("address", "", "Coinbase address")
	fs.Parse(args)

	if *address == "" {
		fatal("Usage: klingnet-cli mining gettemplate --address <coinbase>")
	}

	var result rpc.MiningBlockTemplateResult
	if err := client.Call("mining_getBlockTemplate", rpc.MiningGetBlockTemplateParam{
		CoinbaseAddress: *address,
	}, &result); err != nil {
		fatal("mining_getBlockTemplate: %v", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fatal("marshal result: %v", err)
	}
	fmt.Println(string(data))
}

func cmdMiningSubmit(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("mining submit", flag.ExitOnError)
	blockFile := fs.String("block", "", "Path to solved block JSON file")
	fs.Parse(args)

	if *blockFile == "" {
		fatal("Usage: klingnet-cli mining submit --block <json_file>")
	}

	blockData, err := os.ReadFile(*blockFile)
	if err != nil {
		fatal("read block file: %v", err)
	}

	var blk json.RawMessage
	if err := json.Unmarshal(blockData, &blk); err != nil {
		fatal("invalid block JSON: %v", err)
	}

	params := map[string]interface{}{"block": blk}
	var result rpc.MiningSubmitBlockResult
	if err := client.Call("mining_submitBlock", params, &result); err != nil {
		fatal("mining_submitBlock: %v", err)
	}

	fmt.Printf("Block accepted!\n")
	fmt.Printf("  Hash:   %s\n", result.BlockHash)
	fmt.Printf("  Height: %d\n", result.Height)
}

// ── generate (regtest helper) ──────────────────────────────────────────

func cmdGenerate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	address := fs.String("address", "", "Coinbase address for mined blocks")
	blocks := fs.Uint("blocks", 1, "Number of blocks to mine")
	fs.Parse(args)

	if *address == "" {
		fatal("Usage: klingnet-cli generate --address <addr> --blocks <n>")
	}

	var result rpc.GenerateToResult
	if err := client.Call("generate_to", rpc.GenerateToParam{
		Address: *address,
		Blocks:  uint32(*blocks),
	}, &result); err != nil {
		fatal("generate_to: %v", err)
	}

	fmt.Printf("Mined %d block(s), height now %d\n", len(result.Hashes), result.Height)
	for _, h := range result.Hashes {
		fmt.Printf("  %s\n", h)
	}
}

// ── Formatting helpers ─────────────────────────────────────────────────

// formatAmount converts raw units to a human-readable decimal string.
func formatAmount(units uint64) string {
	whole := units / config.Coin
	frac := units % config.Coin
	return fmt.Sprintf("%d.%08d", whole, frac)
}

// parseAmount converts a decimal string to raw units.
func parseAmount(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative amount")
	}

	parts := strings.SplitN(s, ".", 2)

	whole, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid whole part: %w", err)
	}

	var frac uint64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > config.Decimals {
			return 0, fmt.Errorf("too many decimal places (max %d)", config.Decimals)
		}
		fracStr = fracStr + strings.Repeat("0", config.Decimals-len(fracStr))
		frac, err = strconv.ParseUint(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fractional part: %w", err)
		}
	}

	if whole > math.MaxUint64/config.Coin {
		return 0, fmt.Errorf("amount too large")
	}
	result := whole * config.Coin
	if result > math.MaxUint64-frac {
		return 0, fmt.Errorf("amount too large")
	}

	return result + frac, nil
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
