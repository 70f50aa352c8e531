package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ScriptType identifies the type of locking script. Richer scripting
// (P2SH, multisig, arbitrary opcodes) is deferred; this spec only
// defines the P2PKH form.
type ScriptType uint8

const (
	// ScriptTypeP2PKH locks an output to a 20-byte public-key hash
	// (types.Address). It is the only script type this chain produces
	// or accepts.
	ScriptTypeP2PKH ScriptType = 0x01
)

// String returns a human-readable name for the script type.
func (st ScriptType) String() string {
	switch st {
	case ScriptTypeP2PKH:
		return "P2PKH"
	default:
		return "Unknown"
	}
}

// Script defines the locking condition for a UTXO. Data holds the
// 20-byte address payload for ScriptTypeP2PKH.
type Script struct {
	Type ScriptType `json:"type"`
	Data []byte     `json:"data"`
}

// Address extracts the P2PKH address payload from the script. Returns
// an error if Data is not exactly AddressSize bytes.
func (s Script) Address() (Address, error) {
	var a Address
	if len(s.Data) != AddressSize {
		return a, fmt.Errorf("script data is %d bytes, want %d", len(s.Data), AddressSize)
	}
	copy(a[:], s.Data)
	return a, nil
}

// P2PKHScript builds a pay-to-public-key-hash locking script for addr.
func P2PKHScript(addr Address) Script {
	return Script{Type: ScriptTypeP2PKH, Data: addr.Bytes()}
}

// scriptJSON is the JSON representation of a Script with hex-encoded data.
type scriptJSON struct {
	Type ScriptType `json:"type"`
	Data string     `json:"data"`
}

// MarshalJSON encodes the script with hex-encoded data.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptJSON{
		Type: s.Type,
		Data: hex.EncodeToString(s.Data),
	})
}

// UnmarshalJSON decodes a script with hex-encoded data.
func (s *Script) UnmarshalJSON(data []byte) error {
	var j scriptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.Type = j.Type
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		s.Data = b
	}
	return nil
}
