package server_test

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/mlomgr/internal/adapters/mlie"
	"github.com/lcalzada-xor/mlomgr/internal/adapters/web/server"
	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/journal"
)

type fakeDevices []domain.DeviceSnapshot

func (f fakeDevices) Snapshots() []domain.DeviceSnapshot { return f }

type fakeGroups []domain.GroupSnapshot

func (f fakeGroups) Snapshots() []domain.GroupSnapshot { return f }

var (
	apMLD   = domain.MustParseMAC("00:03:7f:00:00:01")
	peerMLD = domain.MustParseMAC("02:aa:00:00:00:01")
)

func setupServer(t *testing.T) (*server.Server, *journal.Journal) {
	devices := fakeDevices{{
		MLDAddr: apMLD,
		Role:    "ap",
		Listed:  true,
		Links:   []domain.LinkSnapshot{{Slot: 0, Vdev: 1, LinkID: 0}},
		Peers:   []domain.PeerSnapshot{{MLDAddr: peerMLD, AID: 1, State: "assoc_done"}},
	}}
	groups := fakeGroups{{ID: 0, TotalSocs: 2, TotalLinks: 2}}
	j := journal.New(nil, 16)
	return server.NewServer(":0", devices, groups, j), j
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := setupServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["devices"])
	assert.EqualValues(t, 1, body["peers"])
}

func TestServer_HandleMLD(t *testing.T) {
	s, _ := setupServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/mld", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.DeviceSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, apMLD, list[0].MLDAddr)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"known device", "/api/mld/00:03:7f:00:00:01", http.StatusOK},
		{"dash separated", "/api/mld/00-03-7f-00-00-01", http.StatusOK},
		{"unknown device", "/api/mld/00:03:7f:00:00:02", http.StatusNotFound},
		{"bad address", "/api/mld/nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, do(t, h, http.MethodGet, tt.target, "").Code)
		})
	}

	rec = do(t, h, http.MethodGet, "/api/mld/00:03:7f:00:00:01", "")
	var one domain.DeviceSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.Len(t, one.Peers, 1)
	assert.Equal(t, peerMLD, one.Peers[0].MLDAddr)
}

func TestServer_HandleGroups(t *testing.T) {
	s, _ := setupServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/groups", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var groups []domain.GroupSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].TotalLinks)

	empty := server.NewServer(":0", fakeDevices{}, nil, journal.New(nil, 1))
	rec = do(t, empty.Handler(), http.MethodGet, "/api/groups", "")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestServer_HandleEvents(t *testing.T) {
	s, j := setupServer(t)
	h := s.Handler()
	journal.Emit(j, domain.EventDeviceCreated, apMLD.String(), 0, "")
	journal.Emit(j, domain.EventPeerCreated, peerMLD.String(), 0, "")

	rec := do(t, h, http.MethodGet, "/api/events?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPeerCreated, events[0].Kind)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?limit=-3", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?limit=x", "").Code)
}

func TestServer_HandleDecode(t *testing.T) {
	s, _ := setupServer(t)
	h := s.Handler()

	el, err := mlie.BuildBasic(mlie.BasicElement{
		Common: mlie.CommonInfo{MLDAddr: apMLD, HasLinkID: true, LinkID: 2},
		Profiles: []mlie.PerSTAProfile{
			{LinkID: 1, Complete: true, HasMACAddr: true, MACAddr: domain.MustParseMAC("00:03:7f:00:01:01")},
		},
	})
	require.NoError(t, err)
	// an SSID element in front of the Multi-Link element
	section := append([]byte{0x00, 0x02, 'h', 'i'}, el...)

	rec := do(t, h, http.MethodPost, "/api/decode", hex.EncodeToString(section))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var d mlie.Decoded
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, mlie.VariantBasic.String(), d.Variant)
	assert.Equal(t, apMLD, d.Common.MLDAddr)
	require.Len(t, d.Partners, 1)
	assert.EqualValues(t, 1, d.Partners[0].LinkID)

	rec = do(t, h, http.MethodPost, "/api/decode?element=true", "0x"+strings.ToUpper(hex.EncodeToString(el)))
	assert.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not hex", "zz", http.StatusBadRequest},
		{"empty", "  ", http.StatusBadRequest},
		{"no element", "00026869", http.StatusNotFound},
		{"truncated element", hex.EncodeToString(el[:len(el)-4]), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, do(t, h, http.MethodPost, "/api/decode", tt.body).Code)
		})
	}

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/decode", "").Code)
}

func TestServer_Metrics(t *testing.T) {
	s, _ := setupServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_EventStream(t *testing.T) {
	s, j := setupServer(t)
	journal.Emit(j, domain.EventDeviceCreated, apMLD.String(), 0, "replayed")

	ctx := t.Context()
	s.WSManager.Start(ctx)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := read()
	assert.Equal(t, "event", first["type"])
	assert.Equal(t, "replayed", first["payload"].(map[string]any)["detail"])

	require.Eventually(t, func() bool { return s.WSManager.Clients() == 1 }, time.Second, 5*time.Millisecond)
	journal.Emit(j, domain.EventPeerCreated, peerMLD.String(), 1, "live")
	live := read()
	assert.Equal(t, "live", live["payload"].(map[string]any)["detail"])
}
