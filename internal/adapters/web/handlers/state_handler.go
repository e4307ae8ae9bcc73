package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// DeviceSource lists the live MLD device contexts.
type DeviceSource interface {
	Snapshots() []domain.DeviceSnapshot
}

// GroupSource lists the multi-chip groups.
type GroupSource interface {
	Snapshots() []domain.GroupSnapshot
}

// StateHandler serves read-only views of the manager state.
type StateHandler struct {
	Devices DeviceSource
	Groups  GroupSource
}

func NewStateHandler(devices DeviceSource, groups GroupSource) *StateHandler {
	return &StateHandler{Devices: devices, Groups: groups}
}

// HandleListMLDs returns every device snapshot.
func (h *StateHandler) HandleListMLDs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Devices.Snapshots())
}

// HandleGetMLD returns the device whose MLD address is the addr path
// variable, peers included.
func (h *StateHandler) HandleGetMLD(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseMAC(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, d := range h.Devices.Snapshots() {
		if d.MLDAddr == addr {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no MLD "+addr.String())
}

// HandleListGroups returns the multi-chip group states. The list is empty
// when multi-chip support is off.
func (h *StateHandler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := []domain.GroupSnapshot{}
	if h.Groups != nil {
		if g := h.Groups.Snapshots(); g != nil {
			groups = g
		}
	}
	writeJSON(w, http.StatusOK, groups)
}

// HandleHealth reports liveness with a short state summary.
func (h *StateHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	peers := 0
	devices := h.Devices.Snapshots()
	for _, d := range devices {
		peers += len(d.Peers)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": len(devices),
		"peers":   peers,
	})
}
