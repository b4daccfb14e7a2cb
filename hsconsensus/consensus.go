// Package hsconsensus holds the single shared Consensus object (C2): the
// validated-state view map, saved leaves/payloads/VID shares, and the
// locked/high QC — the pivotal structure every task reads and mutates under
// a single reader-writer lock, per §3/§4.2/§5.
package hsconsensus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// leafArena stores leaves by index and cross-references them by index
// rather than pointer, per §9's "shared mutable graph" re-architecture note.
type leafArena struct {
	leaves []*hstypes.Leaf
	index  map[ids.ID]int
}

func newLeafArena() *leafArena {
	return &leafArena{index: make(map[ids.ID]int)}
}

func (a *leafArena) put(commit ids.ID, leaf *hstypes.Leaf) {
	if _, ok := a.index[commit]; ok {
		return
	}
	a.index[commit] = len(a.leaves)
	a.leaves = append(a.leaves, leaf)
}

func (a *leafArena) get(commit ids.ID) (*hstypes.Leaf, bool) {
	i, ok := a.index[commit]
	if !ok {
		return nil, false
	}
	return a.leaves[i], true
}

// Metrics are the Prometheus gauges/counters C2 exposes, following the
// pack's metrics.Averager registration idiom (metrics/metric.go).
type Metrics struct {
	DecidedViews    prometheus.Counter
	InvalidQC       prometheus.Counter
	LastDecidedView prometheus.Gauge
	CurView         prometheus.Gauge

	// ChainLength averages how many views land in one 3-chain commit: 1
	// under steady-state one-view-per-decide progress, higher whenever a
	// view's timeout let several undecided ancestors commit at once.
	ChainLength metric.Averager
}

// NewMetrics registers C2's counters/gauges with reg, following the
// pack's metric.NewAverager registration idiom for the one running-average
// value (decided chain length) alongside the plain Prometheus counters.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	chainLength, err := metric.NewAverager("hotshot", "decided_chain_length", reg)
	if err != nil {
		return nil, fmt.Errorf("hsconsensus: registering chain length averager: %w", err)
	}
	m := &Metrics{
		DecidedViews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotshot_decided_views_total",
			Help: "Total number of views decided by this node.",
		}),
		InvalidQC: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotshot_invalid_qc_total",
			Help: "Total number of quorum certificates that failed validation.",
		}),
		LastDecidedView: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotshot_last_decided_view",
			Help: "The most recently decided view.",
		}),
		CurView: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotshot_cur_view",
			Help: "The node's current view.",
		}),
		ChainLength: chainLength,
	}
	for _, c := range []prometheus.Collector{m.DecidedViews, m.InvalidQC, m.LastDecidedView, m.CurView} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Consensus is the node's single shared, lock-guarded consensus state.
// Every field listed in §3 is represented; mutation happens exclusively
// through the methods below, each of which acquires the write lock for the
// shortest possible critical section (§5: "long holds are forbidden").
type Consensus struct {
	mu sync.RWMutex

	validatedStateMap map[hstypes.View]hstypes.ViewEntry
	orderedViews       []hstypes.View // kept sorted; small committees, linear scan is fine

	savedLeaves   *leafArena
	savedPayloads map[hstypes.View]hstypes.EncodedTransactions
	savedDaCerts  map[hstypes.View]hstypes.DaCertificate
	vidShares     map[hstypes.View]map[ids.NodeID]VidShareEntry
	lastProposals map[hstypes.View]hstypes.SignedProposal

	curView         hstypes.View
	lastDecidedView hstypes.View
	lockedView      hstypes.View
	highQC          hstypes.QuorumCertificate

	log     log.Logger
	metrics *Metrics
}

// VidShareEntry is the share a VID task computed or received for a view,
// keyed by the recipient's NodeID.
type VidShareEntry struct {
	Share      []byte
	Commitment []byte
}

// New constructs a Consensus anchored at genesis.
func New(logger log.Logger, m *Metrics) *Consensus {
	genesis := hstypes.GenesisLeaf()
	commit, err := genesis.Commit()
	if err != nil {
		// GenesisLeaf is fixed and always encodes; a failure here is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("hsconsensus: failed to commit genesis leaf: %v", err))
	}

	c := &Consensus{
		validatedStateMap: make(map[hstypes.View]hstypes.ViewEntry),
		savedLeaves:        newLeafArena(),
		savedPayloads:      make(map[hstypes.View]hstypes.EncodedTransactions),
		savedDaCerts:       make(map[hstypes.View]hstypes.DaCertificate),
		vidShares:          make(map[hstypes.View]map[ids.NodeID]VidShareEntry),
		lastProposals:      make(map[hstypes.View]hstypes.SignedProposal),
		highQC:             hstypes.GenesisQC(),
		log:                logger,
		metrics:            m,
	}
	c.savedLeaves.put(commit, genesis)
	c.validatedStateMap[hstypes.GenesisView] = hstypes.LeafEntry(commit, nil, nil)
	c.orderedViews = []hstypes.View{hstypes.GenesisView}
	return c
}

// Seed re-anchors a restarted node's in-memory state from persisted storage
// (§6 "Restart path", §9 Open Question: cur/locked/last-decided seeding).
// Per the recorded decision in DESIGN.md: cur := startView, locked :=
// highQC.View, lastDecided := anchored.View.
func (c *Consensus) Seed(startView hstypes.View, highQC hstypes.QuorumCertificate, anchored *hstypes.Leaf) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	commit, err := anchored.Commit()
	if err != nil {
		return err
	}
	c.savedLeaves.put(commit, anchored)
	c.curView = startView
	c.lockedView = highQC.ViewNumber
	c.lastDecidedView = anchored.View
	c.highQC = highQC
	return nil
}

// --- Writers -----------------------------------------------------------

// UpdateHighQC accepts q only if q.View > highQC.View (invariant 3); a stale
// update is a silent no-op, logged at debug level.
func (c *Consensus) UpdateHighQC(q hstypes.QuorumCertificate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.ViewNumber <= c.highQC.ViewNumber {
		if c.log != nil {
			c.log.Debug("stale high QC ignored", "incoming", q.ViewNumber, "current", c.highQC.ViewNumber)
		}
		return false
	}
	c.highQC = q
	return true
}

// UpdateValidatedStateMap inserts e at view v, refusing to overwrite a Leaf
// entry with a Failed entry (invariant 4); otherwise last-writer-wins within
// the same tag.
func (c *Consensus) UpdateValidatedStateMap(v hstypes.View, e hstypes.ViewEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.validatedStateMap[v]; ok {
		if existing.Kind == hstypes.EntryLeaf && e.Kind == hstypes.EntryFailed {
			return fmt.Errorf("hsconsensus: refusing to overwrite Leaf entry at view %d with Failed", v)
		}
	} else {
		c.insertOrderedView(v)
	}
	c.validatedStateMap[v] = e
	return nil
}

func (c *Consensus) insertOrderedView(v hstypes.View) {
	i := sort.Search(len(c.orderedViews), func(i int) bool { return c.orderedViews[i] >= v })
	c.orderedViews = append(c.orderedViews, 0)
	copy(c.orderedViews[i+1:], c.orderedViews[i:])
	c.orderedViews[i] = v
}

// UpdateSavedLeaves inserts leaf by its commit, idempotently.
func (c *Consensus) UpdateSavedLeaves(leaf *hstypes.Leaf) (ids.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	commit, err := leaf.Commit()
	if err != nil {
		return ids.Empty, err
	}
	c.savedLeaves.put(commit, leaf)
	return commit, nil
}

// UpdateSavedPayloads inserts bytes for v if absent. An equal-bytes
// re-insert is a no-op; a different-bytes re-insert is a fatal invariant
// breach per §3 invariant 5/§7.
func (c *Consensus) UpdateSavedPayloads(v hstypes.View, bytes hstypes.EncodedTransactions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.savedPayloads[v]; ok {
		if string(existing) == string(bytes) {
			return nil
		}
		return fmt.Errorf("hsconsensus: FATAL invariant breach: conflicting payload for view %d", v)
	}
	c.savedPayloads[v] = bytes
	return nil
}

// UpdateVidShares inserts share into the nested map for (v, self).
func (c *Consensus) UpdateVidShares(v hstypes.View, self ids.NodeID, share VidShareEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vidShares[v] == nil {
		c.vidShares[v] = make(map[ids.NodeID]VidShareEntry)
	}
	c.vidShares[v][self] = share
}

// UpdateLastProposedView records proposal as the last one this node
// proposed, monotone in proposal.View.
func (c *Consensus) UpdateLastProposedView(proposal hstypes.SignedProposal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.lastProposals[proposal.Proposal.View]; exists {
		return false
	}
	for v := range c.lastProposals {
		if v > proposal.Proposal.View {
			return false
		}
	}
	c.lastProposals[proposal.Proposal.View] = proposal
	return true
}

// UpdateSavedDaCerts overwrites the certificate recorded for v
// (last-writer-wins: certs are canonical, per §4.2).
func (c *Consensus) UpdateSavedDaCerts(v hstypes.View, cert hstypes.DaCertificate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.savedDaCerts[v] = cert
}

// CalculateAndUpdateVid derives and inserts self's VID share for view if the
// payload is present and no share exists yet. Returns false if the payload
// is not yet available (caller must retry later).
func (c *Consensus) CalculateAndUpdateVid(view hstypes.View, self ids.NodeID, derive func(hstypes.EncodedTransactions) (VidShareEntry, error)) (bool, error) {
	c.mu.Lock()
	payload, havePayload := c.savedPayloads[view]
	if shares, ok := c.vidShares[view]; ok {
		if _, ok := shares[self]; ok {
			c.mu.Unlock()
			return true, nil // invariant 7: memoized, second compute is a no-op
		}
	}
	c.mu.Unlock()

	if !havePayload {
		return false, nil
	}

	share, err := derive(payload)
	if err != nil {
		return false, err
	}
	c.UpdateVidShares(view, self, share)
	return true, nil
}

// SetCurView advances cur_view. Callers must only call this with a
// strictly-increasing view.
func (c *Consensus) SetCurView(v hstypes.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.curView {
		c.curView = v
		if c.metrics != nil && c.metrics.CurView != nil {
			c.metrics.CurView.Set(float64(v))
		}
	}
}

// --- Readers -------------------------------------------------------------

func (c *Consensus) CurView() hstypes.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.curView
}

func (c *Consensus) LockedView() hstypes.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lockedView
}

func (c *Consensus) LastDecidedView() hstypes.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastDecidedView
}

func (c *Consensus) HighQC() hstypes.QuorumCertificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.highQC
}

// Metrics returns the Prometheus metrics this Consensus was constructed
// with, or nil if none were supplied.
func (c *Consensus) Metrics() *Metrics {
	return c.metrics
}

func (c *Consensus) SavedLeaf(commit ids.ID) (*hstypes.Leaf, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.savedLeaves.get(commit)
}

func (c *Consensus) SavedPayload(v hstypes.View) (hstypes.EncodedTransactions, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.savedPayloads[v]
	return p, ok
}

func (c *Consensus) SavedDaCert(v hstypes.View) (hstypes.DaCertificate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cert, ok := c.savedDaCerts[v]
	return cert, ok
}

func (c *Consensus) VidShare(v hstypes.View, nodeID ids.NodeID) (VidShareEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shares, ok := c.vidShares[v]
	if !ok {
		return VidShareEntry{}, false
	}
	s, ok := shares[nodeID]
	return s, ok
}

func (c *Consensus) LastProposal(v hstypes.View) (hstypes.SignedProposal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.lastProposals[v]
	return p, ok
}

func (c *Consensus) StateEntry(v hstypes.View) (hstypes.ViewEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.validatedStateMap[v]
	return e, ok
}

// DecidedLeaf returns the leaf at LastDecidedView, if any entry exists there.
func (c *Consensus) DecidedLeaf() (*hstypes.Leaf, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.validatedStateMap[c.lastDecidedView]
	if !ok || e.Kind != hstypes.EntryLeaf {
		return nil, false
	}
	return c.savedLeaves.get(e.LeafCommit)
}

