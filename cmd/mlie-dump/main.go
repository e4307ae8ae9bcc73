package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/lcalzada-xor/mlomgr/internal/adapters/mlie"
	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

// Offset of the first IE inside the management body, per subtype.
var ieOffsets = map[layers.Dot11Type]int{
	layers.Dot11TypeMgmtBeacon:            12,
	layers.Dot11TypeMgmtProbeReq:          0,
	layers.Dot11TypeMgmtProbeResp:         12,
	layers.Dot11TypeMgmtAssociationReq:    4,
	layers.Dot11TypeMgmtAssociationResp:   6,
	layers.Dot11TypeMgmtReassociationReq:  10,
	layers.Dot11TypeMgmtReassociationResp: 6,
}

type record struct {
	Index   int           `json:"index"`
	Time    time.Time     `json:"time"`
	Subtype string        `json:"subtype"`
	TA      string        `json:"ta"`
	BSSID   string        `json:"bssid"`
	Element *mlie.Decoded `json:"element,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type summary struct {
	Frames   int
	Elements int
	Errors   int
}

type options struct {
	JSON    bool
	Errors  bool
	Beacons bool
}

func main() {
	var opts options
	path := flag.String("r", "", "pcap file to read (- for stdin)")
	flag.BoolVar(&opts.JSON, "json", false, "print one JSON object per element")
	flag.BoolVar(&opts.Errors, "errors", true, "report malformed elements")
	flag.BoolVar(&opts.Beacons, "beacons", true, "include beacons")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if *path == "" && flag.NArg() > 0 {
		*path = flag.Arg(0)
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: mlie-dump [-json] -r capture.pcap")
		os.Exit(2)
	}

	in := os.Stdin
	if *path != "-" {
		f, err := os.Open(*path)
		if err != nil {
			slog.Error("Failed to open capture", "path", *path, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	sum, err := dump(in, os.Stdout, opts)
	if err != nil {
		slog.Error("Failed to read capture", "path", *path, "error", err)
		os.Exit(1)
	}
	slog.Info("Capture processed", "frames", sum.Frames, "elements", sum.Elements, "errors", sum.Errors)
}

// dump decodes every Multi-Link element carried by the management frames of
// a pcap stream and writes one line per element to w.
func dump(in io.Reader, w io.Writer, opts options) (summary, error) {
	var sum summary
	r, err := pcapgo.NewReader(in)
	if err != nil {
		return sum, err
	}
	switch r.LinkType() {
	case layers.LinkTypeIEEE80211Radio, layers.LinkTypeIEEE802_11:
	default:
		return sum, fmt.Errorf("%w: link type %s", domain.ErrNotSupported, r.LinkType())
	}

	enc := json.NewEncoder(w)
	src := gopacket.NewPacketSource(r, r.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	index := 0
	for {
		packet, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, err
		}
		index++

		dot11, ies, ok := managementIEs(packet)
		if !ok || (!opts.Beacons && dot11.Type == layers.Dot11TypeMgmtBeacon) {
			continue
		}
		sum.Frames++

		rec := record{
			Index:   index,
			Time:    packet.Metadata().Timestamp,
			Subtype: dot11.Type.String(),
			TA:      dot11.Address2.String(),
			BSSID:   dot11.Address3.String(),
		}
		rec.Element, err = mlie.Decode(ies)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			continue
		case err != nil:
			sum.Errors++
			telemetry.ElementParseErrors.WithLabelValues("pcap").Inc()
			if !opts.Errors {
				continue
			}
			rec.Error = err.Error()
		default:
			sum.Elements++
		}

		if opts.JSON {
			if err := enc.Encode(rec); err != nil {
				return sum, err
			}
			continue
		}
		printRecord(w, rec)
	}
}

// managementIEs returns the IE section of a management frame that may carry
// a Multi-Link element.
func managementIEs(packet gopacket.Packet) (*layers.Dot11, []byte, bool) {
	l := packet.Layer(layers.LayerTypeDot11)
	if l == nil {
		return nil, nil, false
	}
	dot11 := l.(*layers.Dot11)
	off, ok := ieOffsets[dot11.Type]
	if !ok || len(dot11.Payload) <= off {
		return nil, nil, false
	}
	return dot11, dot11.Payload[off:], true
}

func printRecord(w io.Writer, rec record) {
	if rec.Error != "" {
		fmt.Fprintf(w, "#%d %s ta=%s malformed: %s\n", rec.Index, rec.Subtype, rec.TA, rec.Error)
		return
	}
	el := rec.Element
	fmt.Fprintf(w, "#%d %s ta=%s %s mld=%s len=%d", rec.Index, rec.Subtype, rec.TA, el.Variant, el.Common.MLDAddr, el.Length)
	if el.Fragmented {
		fmt.Fprint(w, " fragmented")
	}
	if el.Common.HasLinkID {
		fmt.Fprintf(w, " link=%d", el.Common.LinkID)
	}
	for _, p := range el.Partners {
		fmt.Fprintf(w, " partner[%d]=%s", p.LinkID, p.LinkAddr)
	}
	fmt.Fprintln(w)
}
