// Package timeout implements the per-view timeout task (C12): arms a timer
// for the current view, and on expiry broadcasts a TimeoutVote; once enough
// stake times out the same view, the next view's leader collects the votes
// into a TimeoutCertificate it can use to justify its proposal. Consecutive
// timeouts without progress escalate into the view-sync sub-protocol
// (package engine/viewsync).
//
// Grounded on networking/timeout/manager.go's Manager contract
// (RegisterTimeout/TimeoutDuration), generalized from a single fixed
// network-RPC timeout duration to a per-view timer with the spec's
// timeout_ratio exponential backoff, and on engine/quorumvote's
// "sign-on-trigger, next leader accumulates" shape for vote collection.
package timeout

import (
	"context"
	"sync"
	"time"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/voteaccumulator"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// Config holds the next_view_timeout/timeout_ratio parameters from §6.
type Config struct {
	// NextViewTimeout is the duration armed for a fresh view with no prior
	// timeout history.
	NextViewTimeout time.Duration
	// RatioMul/RatioDiv scale the armed duration on each consecutive
	// timeout of the same view: next = cur * RatioMul / RatioDiv.
	RatioMul, RatioDiv uint64
	// ViewSyncThreshold is the number of consecutive timeouts on one view
	// before this task escalates to view-sync instead of rearming again.
	ViewSyncThreshold int
}

// DefaultConfig matches the spec's illustrative values.
func DefaultConfig() Config {
	return Config{NextViewTimeout: 5 * time.Second, RatioMul: 3, RatioDiv: 2, ViewSyncThreshold: 3}
}

// TaskState drives per-view timeout arming and vote collection for one node.
type TaskState struct {
	consensus        *hsconsensus.Consensus
	quorumMembership membership.Membership
	bus              *eventbus.Bus
	cfg              Config

	nodeID ids.NodeID
	pk     hstypes.PK
	sk     hstypes.SK

	votes *voteaccumulator.Registry

	mu          sync.Mutex
	armedView   hstypes.View
	armedDur    time.Duration
	consecutive int
	cancelTimer func()

	logger log.Logger
}

// New constructs a timeout TaskState.
func New(consensus *hsconsensus.Consensus, quorumMembership membership.Membership, bus *eventbus.Bus, cfg Config, nodeID ids.NodeID, pk hstypes.PK, sk hstypes.SK, logger log.Logger) *TaskState {
	return &TaskState{
		consensus:        consensus,
		quorumMembership: quorumMembership,
		bus:              bus,
		cfg:              cfg,
		nodeID:           nodeID,
		pk:               pk,
		sk:               sk,
		votes:            voteaccumulator.NewRegistry(),
		logger:           logger,
	}
}

// Run drains events until ctx is cancelled. No timer is armed on entry: each
// view's timer, the first included, is armed by its KindViewChange event.
func (t *TaskState) Run(ctx context.Context, events <-chan eventbus.Event) {
	defer t.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case eventbus.KindViewChange:
				t.arm(ev.Payload.(eventbus.ViewChangePayload).View, t.cfg.NextViewTimeout, 0)
			case eventbus.KindQuorumProposalValidated, eventbus.KindLeafDecided:
				// Progress happened; the next ViewChange will rearm fresh.
			case eventbus.KindTimeout:
				t.handleExpiry(ev.View)
			case eventbus.KindTimeoutVoteRecv:
				t.handleVoteRecv(ev.Payload.(eventbus.TimeoutVoteRecvPayload))
			}
		}
	}
}

func (t *TaskState) stopTimer() {
	t.mu.Lock()
	cancel := t.cancelTimer
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// arm cancels any outstanding timer and starts a fresh one for view, with
// consecutive recording how many times this exact view has already expired
// (0 on a genuine view advance, incremented by handleExpiry on repeat).
func (t *TaskState) arm(view hstypes.View, dur time.Duration, consecutive int) {
	t.mu.Lock()
	if t.cancelTimer != nil {
		t.cancelTimer()
	}
	t.armedView = view
	t.armedDur = dur
	t.consecutive = consecutive
	timer := time.AfterFunc(dur, func() {
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindTimeout, View: view, Payload: eventbus.TimeoutPayload{View: view}})
	})
	t.cancelTimer = func() { timer.Stop() }
	t.mu.Unlock()
}

// handleExpiry is the "timer expiry" arm: broadcast a TimeoutVote for the
// still-current view, then either rearm with backoff or escalate to
// view-sync once ViewSyncThreshold consecutive timeouts have piled up.
func (t *TaskState) handleExpiry(view hstypes.View) {
	t.mu.Lock()
	stale := view != t.armedView
	consecutive := t.consecutive + 1
	dur := t.armedDur
	t.mu.Unlock()
	if stale {
		return
	}

	sig, err := hstypes.Sign(t.sk, timeoutVoteMsg(view))
	if err != nil {
		t.logger.Error("timeout: failed to sign timeout vote", "view", view, "err", err)
		return
	}
	vote := hstypes.TimeoutVote{
		View:      view,
		HighQC:    t.consensus.HighQC(),
		Signer:    t.pk,
		Signature: hstypes.PartialSignature{Signer: t.pk, Sig: hstypes.SignatureToBytes(sig)},
	}
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindTimeoutVoteRecv, View: view, Payload: eventbus.TimeoutVoteRecvPayload{Vote: vote}})

	if consecutive >= t.cfg.ViewSyncThreshold {
		t.bus.Publish(eventbus.Event{
			Kind: eventbus.KindViewSyncTimeout,
			View: view,
			Payload: eventbus.ViewSyncTimeoutPayload{
				View:  view,
				Phase: hstypes.ViewSyncPreCommitPhase,
				Round: uint64(view),
			},
		})
		return
	}

	next := dur * time.Duration(t.cfg.RatioMul) / time.Duration(t.cfg.RatioDiv)
	t.arm(view, next, consecutive)
}

// handleVoteRecv collects TimeoutVotes toward a TimeoutCertificate. Only the
// view's successor's leader accumulates, since that certificate exists to
// justify the successor's proposal.
func (t *TaskState) handleVoteRecv(p eventbus.TimeoutVoteRecvPayload) {
	view := p.Vote.View
	nextLeader := t.quorumMembership.Leader(view + 1)
	if nextLeader.NodeID != t.nodeID {
		return
	}

	acc := t.votes.For(view, func() *voteaccumulator.Accumulator {
		return voteaccumulator.New(view, t.quorumMembership.QuorumCommittee(), t.quorumMembership.QuorumThreshold())
	})
	if acc == nil || acc.Done() {
		return
	}

	sig, err := hstypes.SignatureFromBytes(p.Vote.Signature.Sig)
	if err != nil {
		t.logger.Error("timeout: malformed vote signature", "view", view, "err", err)
		return
	}
	ready, err := acc.Accept(signerNodeID(t.quorumMembership, p.Vote.Signer), sig)
	if err != nil {
		t.logger.Error("timeout: could not accept vote", "view", view, "err", err)
		return
	}
	if !ready {
		return
	}

	ts, err := acc.Certify()
	if err != nil {
		t.logger.Error("timeout: failed to certify timeout votes", "view", view, "err", err)
		return
	}
	cert := hstypes.TimeoutCertificate{
		Data:       hstypes.CertData{LeafCommit: ids.Empty, View: view},
		ViewNumber: view,
		Signature:  ts,
	}
	// Published at view+1: the pending proposal this certificate justifies
	// targets the view after the one that timed out.
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindTimeoutCertFormed, View: view + 1, Payload: eventbus.TimeoutCertFormedPayload{Certificate: cert}})
}

func timeoutVoteMsg(view hstypes.View) []byte {
	b := make([]byte, 8)
	v := uint64(view)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	return b
}

func signerNodeID(m membership.Membership, pk hstypes.PK) ids.NodeID {
	for _, member := range m.QuorumCommittee() {
		if member.PK == pk {
			return member.NodeID
		}
	}
	return ids.NodeID{}
}
