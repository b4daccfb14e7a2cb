// Package request implements the catch-up request task (C13): once a
// proposal validates and this node still lacks data it needs (currently
// just its own VID share — the spec's "TODO request other things" is
// carried over unimplemented, matching the original), it asks a
// permuted, round-robin sequence of DA committee peers until the data
// shows up locally or the view moves on.
//
// Grounded on original_source/crates/task-impls/src/request.rs's
// NetworkRequestState/DelayedRequester: build_requests/run_delay/do_vid's
// delay-then-round-robin-with-REQUEST_TIMEOUT loop and its cancel_vid
// stop condition (data present, or cur_view advanced past the request,
// or shutdown).
package request

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// RequestTimeout is the per-peer network round-trip budget.
const RequestTimeout = 500 * time.Millisecond

// Requester sends one request to peer and returns its reply, or an error if
// the round-trip failed or timed out. Implemented against the real
// transport by the network bridge (networking/bridge, C15); tests use an
// in-memory fake.
type Requester interface {
	RequestData(ctx context.Context, peer ids.NodeID, msg *wire.DataRequestMessage) (*wire.ResponseMessage, error)
}

// TaskState drives catch-up requests for one node.
type TaskState struct {
	consensus        *hsconsensus.Consensus
	daMembership     membership.Membership
	quorumMembership membership.Membership
	requester        Requester
	bus              *eventbus.Bus

	nodeID ids.NodeID
	pk     hstypes.PK
	sk     hstypes.SK
	delay  time.Duration

	view hstypes.View

	mu      sync.Mutex
	cancels map[hstypes.View]context.CancelFunc

	logger log.Logger
}

// New constructs a request TaskState. delay is the pause before the first
// attempt, giving a fresh response time to arrive via normal broadcast.
func New(consensus *hsconsensus.Consensus, daMembership, quorumMembership membership.Membership, requester Requester, bus *eventbus.Bus, nodeID ids.NodeID, pk hstypes.PK, sk hstypes.SK, delay time.Duration, logger log.Logger) *TaskState {
	return &TaskState{
		consensus:        consensus,
		daMembership:     daMembership,
		quorumMembership: quorumMembership,
		requester:        requester,
		bus:              bus,
		nodeID:           nodeID,
		pk:               pk,
		sk:               sk,
		delay:            delay,
		cancels:          make(map[hstypes.View]context.CancelFunc),
		logger:           logger,
	}
}

// Run drains events until ctx is cancelled, cancelling all in-flight
// requester goroutines on exit.
func (t *TaskState) Run(ctx context.Context, events <-chan eventbus.Event) {
	defer t.cancelAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case eventbus.KindQuorumProposalValidated:
				p := ev.Payload.(eventbus.QuorumProposalValidatedPayload)
				view := p.Proposal.Proposal.View
				if view >= t.view {
					t.spawnVidRequest(ctx, view)
				}
			case eventbus.KindViewChange:
				if v := ev.Payload.(eventbus.ViewChangePayload).View; v > t.view {
					t.view = v
				}
			}
		}
	}
}

func (t *TaskState) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cancel := range t.cancels {
		cancel()
	}
}

// spawnVidRequest launches the delayed, round-robin VID-share fetch loop for
// view unless the share is already present, mirroring build_requests'
// single "TODO request other things" gate.
func (t *TaskState) spawnVidRequest(parent context.Context, view hstypes.View) {
	if _, ok := t.consensus.VidShare(view, t.nodeID); ok {
		return
	}
	req := &wire.DataRequestMessage{Kind: wire.RequestVidShare, View: view, Sender: append([]byte(nil), t.nodeID[:]...)}
	sig, err := t.signRequest(req)
	if err != nil {
		t.logger.Error("request: failed to sign VID request", "view", view, "err", err)
		return
	}
	req.Signature = sig

	recipients := shuffledCommittee(t.daMembership.DACommittee())

	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.cancels[view] = cancel
	t.mu.Unlock()

	go t.runVidLoop(ctx, view, recipients, req)
}

// signRequest signs the request's Kind/View/Sender fields, the content a
// responder must be able to reverify against the claimed sender's key
// before trusting that Sender isn't spoofed.
func (t *TaskState) signRequest(req *wire.DataRequestMessage) ([]byte, error) {
	sig, err := hstypes.Sign(t.sk, req.SigningBytes())
	if err != nil {
		return nil, err
	}
	return hstypes.SignatureToBytes(sig), nil
}

// runVidLoop is DelayedRequester.run/do_vid: delay once, then cycle
// recipients until cancel_vid's stop condition holds.
func (t *TaskState) runVidLoop(ctx context.Context, view hstypes.View, recipients []ids.NodeID, req *wire.DataRequestMessage) {
	if len(recipients) == 0 {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(t.delay):
	}

	i := 0
	for !t.cancelVid(view) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		peer := recipients[i%len(recipients)]
		i++

		rctx, rcancel := context.WithTimeout(ctx, RequestTimeout)
		resp, err := t.requester.RequestData(rctx, peer, req)
		rcancel()

		if err != nil {
			t.logger.Warn("request: VID request failed or timed out", "view", view, "peer", peer, "err", err)
			continue
		}
		if !resp.Found {
			t.logger.Debug("request: peer did not have the VID share", "view", view, "peer", peer)
			continue
		}
		if resp.Vid == nil {
			continue
		}
		t.bus.Publish(eventbus.Event{
			Kind:    eventbus.KindVidShareRecv,
			View:    view,
			Payload: eventbus.VidShareRecvPayload{Disperse: resp.Vid, Sender: peer},
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(RequestTimeout):
		}
	}
}

// cancelVid reports whether the VID fetch for view should stop: the share
// is now present, or the node's view has moved past it.
func (t *TaskState) cancelVid(view hstypes.View) bool {
	if _, ok := t.consensus.VidShare(view, t.nodeID); ok {
		return true
	}
	return t.consensus.CurView() > view
}

func shuffledCommittee(members []membership.Member) []ids.NodeID {
	ids := make([]ids.NodeID, len(members))
	for i, m := range members {
		ids[i] = m.NodeID
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}
