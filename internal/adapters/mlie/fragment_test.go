package mlie

import (
	"fmt"
	"testing"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestFragmentExtensionElement_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 254, 255, 256, 2550} {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			payload := pattern(n)
			seq := FragmentExtensionElement(ExtIDMultiLink, payload)

			info, err := ElementFragSeq(seq)
			require.NoError(t, err)
			assert.Equal(t, len(seq), info.TotalLen)
			assert.Equal(t, n, info.PayloadLen)
			assert.Equal(t, n+1 > MaxIELen, info.Fragmented)

			got, err := DefragmentElement(seq)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestFragmentSubelement_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 254, 255, 256, 2550} {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			payload := pattern(n)
			seq := FragmentSubelement(SubelemPerSTAProfile, payload)
			// Trailing unrelated subelement must not be consumed.
			buf := append(append([]byte{}, seq...), 221, 1, 0)

			got, consumed, err := DefragmentSubelement(buf)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
			assert.Equal(t, len(seq), consumed)
		})
	}
}

func TestFragment_Layout(t *testing.T) {
	seq := FragmentExtensionElement(ExtIDMultiLink, pattern(300))
	require.Len(t, seq, 2+255+2+46)
	assert.Equal(t, []byte{TagExtension, 255, ExtIDMultiLink}, seq[:3])
	assert.Equal(t, []byte{TagFragment, 46}, seq[257:259])
}

func TestFragSeq_Errors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"empty", nil, domain.ErrNullInput},
		{"truncated lead", []byte{221, 5, 0, 0}, domain.ErrProtocol},
		{"fragment after short unit", []byte{221, 1, 0, TagFragment, 1, 0}, domain.ErrProtocol},
		{"zero length fragment", append(append([]byte{221, 255}, pattern(255)...), TagFragment, 0), domain.ErrProtocol},
		{"truncated fragment", append(append([]byte{221, 255}, pattern(255)...), TagFragment, 9, 1), domain.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ElementFragSeq(tt.buf)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFragSeq_StopsAtOtherElement(t *testing.T) {
	buf := append(append([]byte{221, 255}, pattern(255)...), 0, 2, 'a', 'b')
	info, err := ElementFragSeq(buf)
	require.NoError(t, err)
	assert.False(t, info.Fragmented)
	assert.Equal(t, 257, info.TotalLen)
}

func TestBuildBasic_LargeProfileFragments(t *testing.T) {
	body := pattern(600)
	seq, err := BuildBasic(BasicElement{
		Common: CommonInfo{MLDAddr: testMLD},
		Profiles: []PerSTAProfile{
			{LinkID: 1, Complete: true, MACAddr: testSTA5, HasMACAddr: true, Profile: body},
			{LinkID: 2, Complete: true},
		},
	})
	require.NoError(t, err)

	info, err := ElementFragSeq(seq)
	require.NoError(t, err)
	assert.True(t, info.Fragmented)
	assert.Equal(t, len(seq), info.TotalLen)

	got, err := PerSTAProfiles(seq)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, body, got[0].Profile)
	assert.Equal(t, testSTA5, got[0].MACAddr)
	assert.Equal(t, uint8(2), got[1].LinkID)
}
