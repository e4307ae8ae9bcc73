package domain

import (
	"fmt"
	"net"
)

// MAC is a 6-byte IEEE 802 address.
type MAC [6]byte

// ZeroMAC is the all-zero address used by non-MLO interfaces.
var ZeroMAC MAC

// ParseMAC parses the colon/dash separated textual form.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	if !IsValidMAC(s) {
		return m, fmt.Errorf("%w: %s", ErrInvalidMAC, s)
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, fmt.Errorf("%w: %s", ErrInvalidMAC, s)
	}
	copy(m[:], hw)
	return m, nil
}

// MustParseMAC is ParseMAC for constants and tests.
func MustParseMAC(s string) MAC {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MACFromBytes copies the first six bytes of b.
func MACFromBytes(b []byte) MAC {
	var m MAC
	copy(m[:], b)
	return m
}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether every octet is zero.
func (m MAC) IsZero() bool {
	return m == ZeroMAC
}

// MarshalText renders the address for JSON and YAML.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the textual form produced by MarshalText.
func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
