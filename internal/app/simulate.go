package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/peer"
)

var (
	simAPMLD   = domain.MAC{0x00, 0x03, 0x7f, 0x00, 0x00, 0x01}
	simPeerMLD = domain.MAC{0x02, 0x0a, 0x00, 0x00, 0x00, 0x01}
	simFreqs   = [domain.MaxLinks]uint32{2437, 5180, 5955}
)

// simulate brings up the configured multi-chip groups and one AP MLD with a
// link per band, then associates a peer MLD on every link.
func (app *Application) simulate(ctx context.Context) error {
	if app.Config.Features.MultiChip {
		if err := app.simulateGroups(ctx); err != nil {
			return err
		}
	}

	vdevs := make([]domain.VdevHandle, 0, domain.MaxLinks)
	for i := 0; i < domain.MaxLinks; i++ {
		h := app.Objects.CreateVdev(domain.VdevInfo{
			LinkAddr:          domain.MAC{0x00, 0x03, 0x7f, 0x00, 0x01, byte(i)},
			MLDAddr:           simAPMLD,
			OpMode:            domain.OpModeAP,
			LinkID:            uint8(i),
			HwLinkID:          uint16(i),
			ChipID:            uint8(i),
			FreqMHz:           simFreqs[i],
			MaxTxPowerDbm:     20,
			MaxPeers:          app.Config.MaxPeersPerVdev,
			PeerCreateAllowed: true,
		})
		if err := app.Manager.OnVdevCreated(ctx, h, simAPMLD); err != nil {
			return err
		}
		vdevs = append(vdevs, h)
	}
	dev, ok := app.Manager.Lookup(simAPMLD)
	if !ok {
		return fmt.Errorf("%w: simulated MLD %s", domain.ErrNotFound, simAPMLD)
	}

	var partner domain.PartnerInfo
	linkAddrs := make([]domain.MAC, len(vdevs))
	for i := range vdevs {
		linkAddrs[i] = domain.MAC{0x02, 0x0a, 0x00, 0x00, 0x01, byte(i)}
		partner.Links = append(partner.Links, domain.PartnerLink{LinkID: uint8(i), LinkAddr: linkAddrs[i]})
	}

	newLinkPeer := func(i int) (domain.PeerHandle, error) {
		return app.Objects.CreatePeer(domain.LinkPeerInfo{
			Vdev:     vdevs[i],
			LinkAddr: linkAddrs[i],
			MLDAddr:  simPeerMLD,
			RSSI:     -48,
		})
	}
	assocPeer, err := newLinkPeer(0)
	if err != nil {
		return err
	}
	p, err := app.Peers.Create(ctx, dev, peer.CreateParams{
		LinkPeer: assocPeer,
		Partner:  partner,
		AID:      domain.AllocateAID,
	})
	if err != nil {
		return fmt.Errorf("simulated peer: %w", err)
	}
	for i := 1; i < len(vdevs); i++ {
		h, err := newLinkPeer(i)
		if err != nil {
			return err
		}
		if err := app.Peers.AttachLink(ctx, p, h, nil); err != nil {
			return fmt.Errorf("simulated link %d: %w", i, err)
		}
	}
	if err := app.Peers.AssocPost(ctx, p); err != nil {
		return err
	}
	slog.Info("Simulated topology ready", "ap_mld", simAPMLD, "peer_mld", simPeerMLD, "aid", p.AID())
	return nil
}

// simulateGroups probes every link and SoC of each configured group. Links
// are spread over the SoCs in order.
func (app *Application) simulateGroups(ctx context.Context) error {
	var errs []error
	for gi, gc := range app.Config.Groups {
		chips := gc.Chips
		if len(chips) == 0 {
			for c := 0; c < gc.TotalSocs; c++ {
				chips = append(chips, uint8(c))
			}
		}
		for l := 0; l < gc.TotalLinks; l++ {
			pdev := domain.PdevInfo{
				ID:       uint32(gi*100 + l),
				ChipID:   chips[l%len(chips)],
				HwLinkID: uint16(l),
				GroupID:  uint8(gi),
			}
			errs = append(errs, app.Setup.LinkReady(ctx, pdev))
		}
		for _, c := range chips {
			errs = append(errs, app.Setup.SocReady(ctx, uint8(gi), c))
		}
	}
	return errors.Join(errs...)
}
