package mlie

import (
	"testing"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMLD  = domain.MustParseMAC("aa:bb:cc:dd:ee:ff")
	testSTA5 = domain.MustParseMAC("11:22:33:44:55:66")
)

func basicScenario(t *testing.T) []byte {
	t.Helper()
	seq, err := BuildBasic(BasicElement{
		Common: CommonInfo{
			MLDAddr:                testMLD,
			LinkID:                 3,
			HasLinkID:              true,
			BSSParamChangeCount:    7,
			HasBSSParamChangeCount: true,
		},
		Profiles: []PerSTAProfile{{LinkID: 5, Complete: true, MACAddr: testSTA5, HasMACAddr: true}},
	})
	require.NoError(t, err)
	return seq
}

func TestBuildBasic_Wire(t *testing.T) {
	want := []byte{
		0xff, 23, 107,
		0x30, 0x00, // basic, link ID info + BPCC present
		9, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 3, 7,
		0x00, 9, // Per-STA Profile subelement
		0x35, 0x00, // link 5, complete, MAC present
		7, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66,
	}
	assert.Equal(t, want, basicScenario(t))
}

func TestBasicElement_RoundTrip(t *testing.T) {
	seq := basicScenario(t)

	mld, err := GetMLDMACAddress(seq)
	require.NoError(t, err)
	assert.Equal(t, testMLD, mld)

	found, id, err := GetPrimaryLinkID(seq)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint8(3), id)

	found, bpcc, err := GetBSSParamChangeCount(seq)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint8(7), bpcc)

	found, _, err = GetMediumSyncDelay(seq)
	require.NoError(t, err)
	assert.False(t, found)

	l, err := GetCommonInfoLength(seq)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), l)

	partners, err := GetPartnerLinkInfo(seq)
	require.NoError(t, err)
	assert.Equal(t, []domain.PartnerLink{{LinkID: 5, LinkAddr: testSTA5}}, partners.Links)
}

func TestBasicElement_AllCommonFields(t *testing.T) {
	msd := MediumSyncDelay{Duration: 32, OFDMEDThreshold: 5, MaxTXOPs: 2}
	capab := MLDCapability{MaxSimultaneousLinks: 1, SRS: true, T2LMNegotiation: 1, FreqSepSTR: 9, AAR: true}
	seq, err := BuildBasic(BasicElement{Common: CommonInfo{
		MLDAddr:            testMLD,
		MediumSyncDelay:    msd,
		HasMediumSyncDelay: true,
		EMLCap:             0x1234,
		HasEMLCap:          true,
		MLDCap:             capab,
		HasMLDCap:          true,
		MLDID:              4,
		HasMLDID:           true,
	}})
	require.NoError(t, err)

	el, err := Parse(seq)
	require.NoError(t, err)
	assert.Equal(t, uint8(1+6+2+2+2+1), el.Common.Length)
	assert.Nil(t, el.LinkInfo)

	found, gotMSD, err := GetMediumSyncDelay(seq)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, msd, gotMSD)

	found, eml, err := GetEMLCapability(seq)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint16(0x1234), eml)

	found, gotCap, err := GetMLDCapability(seq)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, capab, gotCap)

	found, _, err = GetPrimaryLinkID(seq)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestParse_CommonInfoLengthMismatch(t *testing.T) {
	for _, l := range []byte{8, 10, 0} {
		seq := basicScenario(t)
		seq[5] = l
		_, err := Parse(seq)
		assert.ErrorIs(t, err, domain.ErrProtocol, "length %d", l)
	}
}

func TestParse_InvalidVariant(t *testing.T) {
	seq := basicScenario(t)
	seq[3] = 0x33
	_, err := GetVariant(seq)
	assert.ErrorIs(t, err, domain.ErrProtocol)
	_, err = Parse(seq)
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, domain.ErrNullInput)

	_, err = Parse([]byte{0xff, 2, 107, 0})
	assert.ErrorIs(t, err, domain.ErrProtocol)

	_, err = Parse([]byte{0xff, 3, 56, 0, 0})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	// Declared length runs past the buffer.
	seq := basicScenario(t)
	_, err = Parse(seq[:len(seq)-1])
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestGetters_VariantMismatch(t *testing.T) {
	pr, err := BuildProbeRequest(ProbeReqElement{MLDID: 1, HasMLDID: true})
	require.NoError(t, err)

	_, err = GetMLDMACAddress(pr)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
	_, err = GetCommonInfoLength(pr)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
	_, err = GetPartnerLinkInfo(pr)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
	_, err = GetReconfigLinkInfo(pr)
	assert.ErrorIs(t, err, domain.ErrNotSupported)

	_, _, err = GetMLDID(basicScenario(t))
	assert.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestProbeRequest_RoundTrip(t *testing.T) {
	seq, err := BuildProbeRequest(ProbeReqElement{
		MLDID:    2,
		HasMLDID: true,
		Profiles: []ProbeReqProfile{
			{LinkID: 1, Complete: true},
			{LinkID: 2, Profile: []byte{0x01, 0x01, 0x82}},
		},
	})
	require.NoError(t, err)

	v, err := GetVariant(seq)
	require.NoError(t, err)
	assert.Equal(t, VariantProbeReq, v)

	found, id, err := GetMLDID(seq)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint8(2), id)

	info, err := GetProbeReqLinkIDs(seq)
	require.NoError(t, err)
	assert.Equal(t, ProbeReqInfo{MLDID: 2, HasMLDID: true, LinkIDs: []uint8{1, 2}}, info)
}

func TestReconfig_RoundTrip(t *testing.T) {
	links := []ReconfigLink{
		{LinkID: 1, Complete: true, LinkAddr: testSTA5, HasLinkAddr: true, APRemovalTimer: 100, HasAPRemovalTimer: true},
		{LinkID: 2},
	}
	seq, err := BuildReconfig(ReconfigElement{MLDAddr: testMLD, HasMLDAddr: true, Links: links})
	require.NoError(t, err)

	// No Common Info length octet: ID, length, ext ID, control, MLD address.
	assert.Equal(t, testMLD[:], seq[5:11])

	found, mld, err := GetReconfigMLDMACAddress(seq)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, testMLD, mld)

	info, err := GetReconfigLinkInfo(seq)
	require.NoError(t, err)
	assert.Equal(t, links, info.Links)
}

func TestReconfig_WithoutMLDAddress(t *testing.T) {
	seq, err := BuildReconfig(ReconfigElement{Links: []ReconfigLink{{LinkID: 3, Complete: true}}})
	require.NoError(t, err)

	found, _, err := GetReconfigMLDMACAddress(seq)
	require.NoError(t, err)
	assert.False(t, found)

	info, err := GetReconfigLinkInfo(seq)
	require.NoError(t, err)
	require.Len(t, info.Links, 1)
	assert.Equal(t, uint8(3), info.Links[0].LinkID)
}

func TestFind(t *testing.T) {
	ssid := []byte{0, 3, 'a', 'b', 'c'}

	_, found, err := Find(ssid)
	require.NoError(t, err)
	assert.False(t, found)

	// FindByVariant reports the same absence as an error.
	_, err = FindByVariant(ssid, VariantBasic)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = Find(nil)
	assert.ErrorIs(t, err, domain.ErrNullInput)

	_, _, err = Find([]byte{0, 10, 'a'})
	assert.ErrorIs(t, err, domain.ErrProtocol)

	ml := basicScenario(t)
	buf := append(append([]byte{}, ssid...), ml...)
	span, found, err := Find(buf)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Span{Offset: len(ssid), Length: len(ml)}, span)
	assert.Equal(t, ml, span.Of(buf))
}

func TestFindByVariant_SkipsOtherVariants(t *testing.T) {
	pr, err := BuildProbeRequest(ProbeReqElement{})
	require.NoError(t, err)
	basic := basicScenario(t)
	buf := append(append([]byte{0, 1, 'x'}, pr...), basic...)

	span, err := FindByVariant(buf, VariantBasic)
	require.NoError(t, err)
	assert.Equal(t, 3+len(pr), span.Offset)

	span, err = FindByVariant(buf, VariantProbeReq)
	require.NoError(t, err)
	assert.Equal(t, 3, span.Offset)

	_, err = FindByVariant(buf, VariantReconfig)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = FindByVariant(nil, VariantBasic)
	assert.ErrorIs(t, err, domain.ErrNullInput)
}

func TestPerSTAProfiles_EmptyPayload(t *testing.T) {
	seq := []byte{
		0xff, 12, 107,
		0x00, 0x00,
		7, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
		0x00, 0x00,
	}
	_, err := PerSTAProfiles(seq)
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestGetPartnerLinkInfo_SkipsProfileWithoutMAC(t *testing.T) {
	seq, err := BuildBasic(BasicElement{
		Common: CommonInfo{MLDAddr: testMLD},
		Profiles: []PerSTAProfile{
			{LinkID: 1, Complete: true},
			{LinkID: 2, Complete: true, MACAddr: testSTA5, HasMACAddr: true},
		},
	})
	require.NoError(t, err)

	info, err := GetPartnerLinkInfo(seq)
	require.NoError(t, err)
	assert.Equal(t, []domain.PartnerLink{{LinkID: 2, LinkAddr: testSTA5}}, info.Links)
}

func TestGetPartnerLinkInfo_TooManyLinks(t *testing.T) {
	var links []domain.PartnerLink
	for i := 0; i <= domain.MaxPartnerLinks; i++ {
		links = append(links, domain.PartnerLink{LinkID: uint8(i), LinkAddr: domain.MAC{0x02, 0, 0, 0, 0, byte(i)}})
	}
	seq, err := BuildFromPartnerInfo(testMLD, domain.PartnerInfo{Links: links})
	require.NoError(t, err)

	_, err = GetPartnerLinkInfo(seq)
	assert.ErrorIs(t, err, domain.ErrOutOfCapacity)
}

func TestPerSTAProfile_AllFields(t *testing.T) {
	in := PerSTAProfile{
		LinkID:                 4,
		Complete:               true,
		MACAddr:                testSTA5,
		HasMACAddr:             true,
		BeaconInterval:         100,
		HasBeaconInterval:      true,
		TSFOffset:              -20,
		HasTSFOffset:           true,
		DTIMCount:              1,
		DTIMPeriod:             3,
		HasDTIMInfo:            true,
		NSTRBitmap:             0x0102,
		NSTRBitmapLen:          2,
		BSSParamChangeCount:    9,
		HasBSSParamChangeCount: true,
		Profile:                []byte{0x11, 0x04, 0x00, 0x00},
	}
	seq, err := BuildBasic(BasicElement{Common: CommonInfo{MLDAddr: testMLD}, Profiles: []PerSTAProfile{in}})
	require.NoError(t, err)

	got, err := PerSTAProfiles(seq)
	require.NoError(t, err)
	require.Len(t, got, 1)
	in.STAInfoLength = 1 + 6 + 2 + 8 + 2 + 2 + 1
	assert.Equal(t, in, got[0])
}

func TestPerSTAProfile_TSFOffsetInPartialProfile(t *testing.T) {
	_, err := encodePerSTAProfile(PerSTAProfile{LinkID: 1, HasTSFOffset: true})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	payload := []byte{0x81, 0x00, 9, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err = ParsePerSTAProfile(payload)
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestBuild_LinkIDOutOfRange(t *testing.T) {
	_, err := BuildBasic(BasicElement{Common: CommonInfo{LinkID: 16, HasLinkID: true}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = BuildReconfig(ReconfigElement{Links: []ReconfigLink{{LinkID: 20}}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDecode(t *testing.T) {
	buf := append([]byte{0, 2, 'h', 'i'}, basicScenario(t)...)
	d, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "basic", d.Variant)
	assert.False(t, d.Fragmented)
	assert.Equal(t, testMLD, d.Common.MLDAddr)
	assert.Equal(t, []domain.PartnerLink{{LinkID: 5, LinkAddr: testSTA5}}, d.Partners)

	_, err = Decode([]byte{0, 2, 'h', 'i'})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
