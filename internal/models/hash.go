package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hash32 is a 32-byte value encoded on the wire as lowercase hex with a 0x
// prefix. PoI values and block hashes are both Hash32.
type Hash32 [32]byte

// ParseHash32 decodes a 0x-prefixed hex string into a Hash32, rejecting
// anything that is not exactly 32 bytes.
func ParseHash32(s string) (Hash32, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Hash32{}, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != 32 {
		return Hash32{}, fmt.Errorf("parse hash: expected 32 bytes, got %d", len(b))
	}
	var h Hash32
	copy(h[:], b)
	return h, nil
}

func (h Hash32) String() string {
	return hexutil.Encode(h[:])
}

func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

func (h Hash32) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash32(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Value/Scan let Hash32 round-trip through pgx as BYTEA.
func (h Hash32) Value() (driver.Value, error) {
	return h[:], nil
}

func (h *Hash32) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("scan hash: unsupported type %T", src)
	}
	if len(b) != 32 {
		return fmt.Errorf("scan hash: expected 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return nil
}

// Address20 is a 20-byte indexer address, encoded on the wire as lowercase
// hex with a 0x prefix. Unlike go-ethereum's common.Address, String() never
// applies EIP-55 checksum casing: the spec requires plain lowercase hex.
type Address20 [20]byte

func ParseAddress20(s string) (Address20, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Address20{}, fmt.Errorf("parse address: %w", err)
	}
	if len(b) != 20 {
		return Address20{}, fmt.Errorf("parse address: expected 20 bytes, got %d", len(b))
	}
	var a Address20
	copy(a[:], b)
	return a, nil
}

func (a Address20) String() string {
	return hexutil.Encode(a[:])
}

func (a Address20) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address20) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress20(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Address20) Value() (driver.Value, error) {
	return a[:], nil
}

func (a *Address20) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("scan address: unsupported type %T", src)
	}
	if len(b) != 20 {
		return fmt.Errorf("scan address: expected 20 bytes, got %d", len(b))
	}
	copy(a[:], b)
	return nil
}
