package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAC(t *testing.T) {
	m, err := ParseMAC("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, m)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", m.String())
	assert.False(t, m.IsZero())
	assert.True(t, ZeroMAC.IsZero())

	_, err = ParseMAC("not-a-mac")
	assert.ErrorIs(t, err, ErrInvalidMAC)

	_, err = ParseMAC("00:00:5e:00:53:00:00:01")
	assert.ErrorIs(t, err, ErrInvalidMAC)
}

func TestMAC_JSON(t *testing.T) {
	in := struct {
		Addr MAC `json:"addr"`
	}{Addr: MustParseMAC("11:22:33:44:55:66")}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"addr":"11:22:33:44:55:66"}`, string(raw))

	var out struct {
		Addr MAC `json:"addr"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in.Addr, out.Addr)
}

func TestSpaceError_Unwrap(t *testing.T) {
	err := &SpaceError{What: "capability info", Required: 2, Available: 1}
	assert.ErrorIs(t, err, ErrOutOfSpace)
	assert.Contains(t, err.Error(), "need 2 octets, 1 available")
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(EventPeerCreated, "aa:bb:cc:dd:ee:ff", 1, "aid=3")
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, EventPeerCreated, ev.Kind)

	_, err = NewEvent(EventPeerCreated, "", 0, "")
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = NewEvent("BOGUS", "x", 0, "")
	assert.ErrorIs(t, err, ErrInvalidEventKind)
}
