package handlers

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/lcalzada-xor/mlomgr/internal/adapters/mlie"
	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

const maxDecodeBody = 64 << 10

// DecodeHandler decodes hex encoded Multi-Link elements.
type DecodeHandler struct{}

func NewDecodeHandler() *DecodeHandler {
	return &DecodeHandler{}
}

// HandleDecode reads a hex body and answers with the decoded element. By
// default the body is an IE section searched for the first Multi-Link
// element; with ?element=true it must start with the element itself.
func (h *DecodeHandler) HandleDecode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDecodeBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	raw, err := parseHex(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hex: "+err.Error())
		return
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	var d *mlie.Decoded
	if r.URL.Query().Get("element") == "true" {
		d, err = mlie.DecodeElement(raw)
	} else {
		d, err = mlie.Decode(raw)
	}
	if err != nil {
		telemetry.ElementParseErrors.WithLabelValues("api").Inc()
		status := http.StatusUnprocessableEntity
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// parseHex accepts plain hex with optional whitespace, colons and a 0x
// prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t', ':':
			return -1
		}
		return r
	}, s)
	return hex.DecodeString(s)
}
