// Package setup brings multi-chip MLO groups up and down. Every link of a
// group has to be probed before firmware can set the group up, and teardown
// waits for every link to confirm.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/journal"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

// DefaultTeardownTimeout bounds the wait for teardown completions.
const DefaultTeardownTimeout = 3000 * time.Millisecond

// GroupConfig describes what a group expects before setup starts.
type GroupConfig struct {
	TotalSocs  int `yaml:"total_socs" json:"total_socs"`
	TotalLinks int `yaml:"total_links" json:"total_links"`
	// Chips, when set, pins each SoC to the slot of its chip id.
	Chips []uint8 `yaml:"chips" json:"chips"`
}

type Config struct {
	Groups          []GroupConfig
	TeardownTimeout time.Duration
}

type group struct {
	id  uint8
	cfg GroupConfig

	socs    [domain.MaxMLOChips]bool
	socIDs  [domain.MaxMLOChips]uint8
	numSocs int

	links    [domain.MaxGroupLinks]*domain.PdevInfo
	states   [domain.MaxGroupLinks]domain.LinkState
	numLinks int
	valid    uint32

	attached       bool
	setupRequested bool
	ready          bool
	teardown       *teardownWait
}

// teardownWait is shared by every caller waiting on one group teardown. err
// is set before done is closed.
type teardownWait struct {
	done chan struct{}
	err  error
}

// Coordinator implements ports.RadioEvents.
type Coordinator struct {
	transport ports.RadioTransport
	hooks     *ports.DataPlaneHooks
	journal   ports.EventJournal
	timeout   time.Duration
	enabled   bool

	mu     sync.Mutex
	groups []*group
}

var _ ports.RadioEvents = (*Coordinator)(nil)

// New builds the coordinator. With the multi-chip feature off every
// operation fails with domain.ErrNotSupported.
func New(features domain.FeatureSet, cfg Config, transport ports.RadioTransport, hooks *ports.DataPlaneHooks, j ports.EventJournal) (*Coordinator, error) {
	c := &Coordinator{
		transport: transport,
		hooks:     hooks,
		journal:   j,
		timeout:   cfg.TeardownTimeout,
		enabled:   features.MultiChip,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTeardownTimeout
	}
	if !c.enabled {
		return c, nil
	}
	if len(cfg.Groups) == 0 || len(cfg.Groups) > domain.MaxMLOGroups {
		return nil, fmt.Errorf("%w: %d MLO groups, want 1..%d", domain.ErrInvalidArgument, len(cfg.Groups), domain.MaxMLOGroups)
	}
	for i, gc := range cfg.Groups {
		if gc.TotalSocs <= 0 || gc.TotalSocs > domain.MaxMLOChips {
			return nil, fmt.Errorf("%w: group %d expects %d SoCs", domain.ErrInvalidArgument, i, gc.TotalSocs)
		}
		if gc.TotalLinks <= 0 || gc.TotalLinks > domain.MaxGroupLinks {
			return nil, fmt.Errorf("%w: group %d expects %d links", domain.ErrInvalidArgument, i, gc.TotalLinks)
		}
		if len(gc.Chips) > 0 && len(gc.Chips) != gc.TotalSocs {
			return nil, fmt.Errorf("%w: group %d lists %d chips for %d SoCs", domain.ErrInvalidArgument, i, len(gc.Chips), gc.TotalSocs)
		}
		c.groups = append(c.groups, &group{id: uint8(i), cfg: gc})
	}
	return c, nil
}

func (c *Coordinator) groupLocked(id uint8) (*group, error) {
	if !c.enabled {
		return nil, fmt.Errorf("%w: multi-chip MLO", domain.ErrNotSupported)
	}
	if int(id) >= len(c.groups) {
		return nil, fmt.Errorf("%w: group %d of %d", domain.ErrInvalidArgument, id, len(c.groups))
	}
	return c.groups[id], nil
}

func label(id uint8) string {
	return strconv.Itoa(int(id))
}

// socSlot returns the slot of chip, or a free one when down is false.
func (g *group) socSlot(chip uint8, down bool) int {
	for i := 0; i < g.cfg.TotalSocs; i++ {
		if g.socs[i] && g.socIDs[i] == chip {
			return i
		}
	}
	if down {
		return -1
	}
	if len(g.cfg.Chips) > 0 {
		for i, id := range g.cfg.Chips {
			if id == chip {
				return i
			}
		}
		return -1
	}
	for i := 0; i < g.cfg.TotalSocs; i++ {
		if !g.socs[i] {
			return i
		}
	}
	return -1
}

func (g *group) linkSlot(id uint32) int {
	for i := 0; i < g.cfg.TotalLinks; i++ {
		if g.links[i] != nil && g.links[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *group) probedLocked() []domain.PdevInfo {
	out := make([]domain.PdevInfo, 0, g.numLinks)
	for i := 0; i < g.cfg.TotalLinks; i++ {
		if g.links[i] != nil {
			out = append(out, *g.links[i])
		}
	}
	return out
}

func (g *group) allInState(st domain.LinkState) bool {
	for i := 0; i < g.cfg.TotalLinks; i++ {
		if g.states[i] != st {
			return false
		}
	}
	return true
}

// setupDueLocked reports whether the aggregated setup request should go out
// now and marks it sent.
func (g *group) setupDueLocked() bool {
	if g.setupRequested || g.numLinks != g.cfg.TotalLinks || g.numSocs != g.cfg.TotalSocs {
		return false
	}
	g.setupRequested = true
	return true
}

// SocReady records a probed SoC. The data path is attached once every SoC
// of the group is in.
func (c *Coordinator) SocReady(ctx context.Context, groupID, chip uint8) error {
	c.mu.Lock()
	g, err := c.groupLocked(groupID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ix := g.socSlot(chip, false)
	if ix < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: chip %d has no slot in group %d", domain.ErrOutOfCapacity, chip, groupID)
	}
	if g.socs[ix] {
		c.mu.Unlock()
		return nil
	}
	g.socs[ix], g.socIDs[ix] = true, chip
	g.numSocs++
	slog.Debug("SoC ready", "group", groupID, "chip", chip, "socs", g.numSocs, "total", g.cfg.TotalSocs)

	var chips []uint8
	if g.numSocs == g.cfg.TotalSocs && !g.attached {
		g.attached = true
		for i := 0; i < g.cfg.TotalSocs; i++ {
			if g.socs[i] {
				chips = append(chips, g.socIDs[i])
			}
		}
	}
	due := g.setupDueLocked()
	links := g.probedLocked()
	c.mu.Unlock()

	if chips != nil {
		if err := c.hooks.CtxtAttach(groupID); err != nil {
			slog.Error("setup: data path attach failed", "group", groupID, "error", err)
		}
		for _, id := range chips {
			if err := c.hooks.Setup(groupID, id); err != nil {
				slog.Error("setup: SoC setup failed", "group", groupID, "chip", id, "error", err)
			}
		}
	}
	if due {
		return c.requestSetup(ctx, groupID, links)
	}
	return nil
}

// LinkReady records a probed link. When the group has every link and every
// SoC, one setup request covering all links goes to firmware.
func (c *Coordinator) LinkReady(ctx context.Context, pdev domain.PdevInfo) error {
	c.mu.Lock()
	g, err := c.groupLocked(pdev.GroupID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if g.linkSlot(pdev.ID) >= 0 {
		c.mu.Unlock()
		return nil
	}
	ix := -1
	for i := 0; i < g.cfg.TotalLinks; i++ {
		if g.links[i] == nil {
			ix = i
			break
		}
	}
	if ix < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: group %d already has %d links", domain.ErrOutOfCapacity, pdev.GroupID, g.cfg.TotalLinks)
	}
	info := pdev
	g.links[ix] = &info
	g.states[ix] = domain.LinkSetupInit
	g.numLinks++
	if pdev.HwLinkID != domain.InvalidHwLink && pdev.HwLinkID < 32 {
		g.valid |= 1 << pdev.HwLinkID
	}
	slog.Debug("link ready", "group", pdev.GroupID, "pdev", pdev.ID, "hw_link_id", pdev.HwLinkID,
		"links", g.numLinks, "total", g.cfg.TotalLinks)

	due := g.setupDueLocked()
	links := g.probedLocked()
	c.mu.Unlock()

	if due {
		return c.requestSetup(ctx, pdev.GroupID, links)
	}
	return nil
}

func (c *Coordinator) requestSetup(ctx context.Context, groupID uint8, links []domain.PdevInfo) error {
	telemetry.SetupRequests.WithLabelValues(label(groupID)).Inc()
	journal.Emit(c.journal, domain.EventGroupSetupRequest, "group-"+label(groupID), -1, fmt.Sprintf("links=%d", len(links)))
	slog.Info("MLO setup requested", "group", groupID, "links", len(links))
	if c.transport == nil {
		return nil
	}
	if err := c.transport.SendSetupRequest(ctx, groupID, links); err != nil {
		c.mu.Lock()
		c.groups[groupID].setupRequested = false
		c.mu.Unlock()
		return fmt.Errorf("setup request for group %d: %w", groupID, err)
	}
	return nil
}

// LinkSetupComplete marks one link set up. Once every link is, firmware is
// told the group is ready.
func (c *Coordinator) LinkSetupComplete(ctx context.Context, pdev domain.PdevInfo) error {
	c.mu.Lock()
	g, err := c.groupLocked(pdev.GroupID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ix := g.linkSlot(pdev.ID)
	if ix < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: pdev %d in group %d", domain.ErrNotFound, pdev.ID, pdev.GroupID)
	}
	g.states[ix] = domain.LinkSetupDone
	if !g.allInState(domain.LinkSetupDone) {
		c.mu.Unlock()
		return nil
	}
	links := g.probedLocked()
	c.mu.Unlock()

	if c.transport != nil {
		if err := c.transport.SendReadyNotification(ctx, pdev.GroupID, links); err != nil {
			return fmt.Errorf("ready notification for group %d: %w", pdev.GroupID, err)
		}
	}

	c.mu.Lock()
	for i := 0; i < g.cfg.TotalLinks; i++ {
		if g.states[i] == domain.LinkSetupDone {
			g.states[i] = domain.LinkReady
		}
	}
	g.ready = true
	c.mu.Unlock()

	journal.Emit(c.journal, domain.EventGroupReady, "group-"+label(pdev.GroupID), -1, fmt.Sprintf("links=%d", len(links)))
	slog.Info("MLO group ready", "group", pdev.GroupID, "links", len(links))
	return nil
}

// LinkTeardownComplete marks one link torn down. The last one releases the
// data path and wakes a waiting Teardown.
func (c *Coordinator) LinkTeardownComplete(ctx context.Context, pdev domain.PdevInfo) error {
	c.mu.Lock()
	g, err := c.groupLocked(pdev.GroupID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if g.numLinks == 0 {
		c.mu.Unlock()
		return nil
	}
	ix := g.linkSlot(pdev.ID)
	if ix < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: pdev %d in group %d", domain.ErrNotFound, pdev.ID, pdev.GroupID)
	}
	if g.states[ix] == domain.LinkTeardown {
		c.mu.Unlock()
		return nil
	}
	g.states[ix] = domain.LinkTeardown
	if !g.allInState(domain.LinkTeardown) {
		c.mu.Unlock()
		return nil
	}
	chips, detach := g.releaseLocked()
	w := g.teardown
	g.teardown = nil
	c.mu.Unlock()

	c.releaseDataPath(g.id, chips, detach, false)
	if w != nil {
		close(w.done)
	}
	slog.Info("MLO group torn down", "group", pdev.GroupID)
	return nil
}

// releaseLocked resets the group to pre-setup and returns the chips whose
// data path must be torn down.
func (g *group) releaseLocked() ([]uint8, bool) {
	var chips []uint8
	for i := 0; i < g.cfg.TotalSocs; i++ {
		if g.socs[i] {
			chips = append(chips, g.socIDs[i])
		}
	}
	detach := g.attached
	g.attached = false
	g.setupRequested = false
	g.ready = false
	return chips, detach
}

func (c *Coordinator) releaseDataPath(groupID uint8, chips []uint8, detach, forced bool) {
	for _, id := range chips {
		if err := c.hooks.Teardown(groupID, id, forced); err != nil {
			slog.Error("setup: SoC teardown failed", "group", groupID, "chip", id, "error", err)
		}
	}
	if detach {
		if err := c.hooks.CtxtDetach(groupID); err != nil {
			slog.Error("setup: data path detach failed", "group", groupID, "error", err)
		}
	}
}

// Teardown asks firmware to tear the group down and waits for every link to
// confirm. A subsystem restart does not wait. When the wait times out every
// link is forced down locally and domain.ErrTimeout is returned. A caller
// arriving while a teardown is in flight joins it and gets its outcome.
func (c *Coordinator) Teardown(ctx context.Context, groupID uint8, reason domain.TeardownReason) error {
	ctx, span := otel.Tracer("mlo-setup").Start(ctx, "Teardown")
	defer span.End()
	span.SetAttributes(attribute.Int("group", int(groupID)), attribute.Bool("ssr", reason == domain.TeardownSSR))

	c.mu.Lock()
	g, err := c.groupLocked(groupID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if g.numSocs == 0 || g.allInState(domain.LinkTeardown) {
		c.mu.Unlock()
		return nil
	}
	links := g.probedLocked()
	w := g.teardown
	joined := w != nil
	if !joined {
		w = &teardownWait{done: make(chan struct{})}
		g.teardown = w
	}
	c.mu.Unlock()

	if !joined {
		journal.Emit(c.journal, domain.EventGroupTeardown, "group-"+label(groupID), -1,
			fmt.Sprintf("links=%d ssr=%t", len(links), reason == domain.TeardownSSR))
		if c.transport != nil {
			if err := c.transport.SendTeardownRequest(ctx, groupID, links, reason); err != nil {
				slog.Warn("setup: teardown request failed", "group", groupID, "error", err)
			}
		}
	}
	if reason == domain.TeardownSSR {
		return nil
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return w.err
	case <-timer.C:
	case <-ctx.Done():
	}

	if !c.forceTeardown(g, w) {
		// Completed or forced by another caller in the meantime.
		<-w.done
		return w.err
	}
	span.RecordError(w.err)
	return w.err
}

// forceTeardown marks every link of g down unless w was already settled.
func (c *Coordinator) forceTeardown(g *group, w *teardownWait) bool {
	c.mu.Lock()
	if g.teardown != w {
		c.mu.Unlock()
		return false
	}
	for i := 0; i < g.cfg.TotalLinks; i++ {
		g.states[i] = domain.LinkTeardown
	}
	g.teardown = nil
	w.err = fmt.Errorf("%w: group %d teardown after %s", domain.ErrTimeout, g.id, c.timeout)
	chips, detach := g.releaseLocked()
	c.mu.Unlock()

	telemetry.ForcedTeardowns.WithLabelValues(label(g.id)).Inc()
	slog.Error("MLO teardown timed out, forcing", "group", g.id, "timeout", c.timeout)
	c.releaseDataPath(g.id, chips, detach, true)
	close(w.done)
	return true
}

// LinkDown forgets a link, e.g. when its radio goes away.
func (c *Coordinator) LinkDown(ctx context.Context, pdev domain.PdevInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.groupLocked(pdev.GroupID)
	if err != nil {
		return err
	}
	ix := g.linkSlot(pdev.ID)
	if ix < 0 {
		return fmt.Errorf("%w: pdev %d in group %d", domain.ErrNotFound, pdev.ID, pdev.GroupID)
	}
	g.linkDownLocked(ix)
	return nil
}

func (g *group) linkDownLocked(ix int) {
	hw := g.links[ix].HwLinkID
	g.links[ix] = nil
	g.states[ix] = domain.LinkUninitialized
	g.numLinks--
	if hw != domain.InvalidHwLink && hw < 32 {
		g.valid &^= 1 << hw
	}
	g.setupRequested = false
	g.ready = false
}

// SocDown forgets a SoC together with its links.
func (c *Coordinator) SocDown(ctx context.Context, groupID, chip uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.groupLocked(groupID)
	if err != nil {
		return err
	}
	for i := 0; i < g.cfg.TotalLinks; i++ {
		if g.links[i] != nil && g.links[i].ChipID == chip {
			g.linkDownLocked(i)
		}
	}
	ix := g.socSlot(chip, true)
	if ix < 0 {
		return fmt.Errorf("%w: chip %d in group %d", domain.ErrNotFound, chip, groupID)
	}
	g.socs[ix] = false
	g.numSocs--
	g.setupRequested = false
	slog.Info("SoC down", "group", groupID, "chip", chip, "socs", g.numSocs, "links", g.numLinks)
	return nil
}

// AllLinksInState reports whether every expected link of the group is in st.
func (c *Coordinator) AllLinksInState(groupID uint8, st domain.LinkState) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.groupLocked(groupID)
	if err != nil {
		return false, err
	}
	return g.allInState(st), nil
}

// ValidLinks returns the bitmap of probed hardware link ids.
func (c *Coordinator) ValidLinks(groupID uint8) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.groupLocked(groupID)
	if err != nil {
		return 0, err
	}
	return g.valid, nil
}

// IsSingleSoc reports whether every vdev sits on the same chip.
func IsSingleSoc(vdevs []domain.VdevInfo) bool {
	for _, v := range vdevs {
		if v.ChipID != vdevs[0].ChipID {
			return false
		}
	}
	return true
}

func (c *Coordinator) Snapshots() []domain.GroupSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.GroupSnapshot, 0, len(c.groups))
	for _, g := range c.groups {
		s := domain.GroupSnapshot{
			ID:             g.id,
			TotalSocs:      g.cfg.TotalSocs,
			ProbedSocs:     g.numSocs,
			TotalLinks:     g.cfg.TotalLinks,
			ProbedLinks:    g.numLinks,
			LinkStates:     make(map[string]string),
			SetupRequested: g.setupRequested,
			Ready:          g.ready,
		}
		for hw := 0; hw < 32; hw++ {
			if g.valid&(1<<hw) != 0 {
				s.ValidHwLinks = append(s.ValidHwLinks, hw)
			}
		}
		for i := 0; i < g.cfg.TotalLinks; i++ {
			if g.links[i] != nil {
				s.LinkStates[strconv.FormatUint(uint64(g.links[i].ID), 10)] = g.states[i].String()
			}
		}
		out = append(out, s)
	}
	return out
}
