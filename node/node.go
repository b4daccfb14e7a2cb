// Package node assembles one participant's full task graph onto a shared
// eventbus.Bus and drives it against a real (or test) transport: consensus
// state, storage, membership, every engine/* task, and the networking
// bridge are all wired here, the single place that knows how the pieces
// fit together. Modeled on the teacher's own node-assembly shape — one
// constructor building every subsystem against a shared Registry, one
// Start/Stop pair controlling all of it.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/hotshot-consensus/hotshot/engine/core"
	"github.com/hotshot-consensus/hotshot/engine/da"
	"github.com/hotshot-consensus/hotshot/engine/quorumproposal"
	"github.com/hotshot-consensus/hotshot/engine/quorumproposalrecv"
	"github.com/hotshot-consensus/hotshot/engine/quorumvote"
	"github.com/hotshot-consensus/hotshot/engine/request"
	"github.com/hotshot-consensus/hotshot/engine/response"
	"github.com/hotshot-consensus/hotshot/engine/timeout"
	"github.com/hotshot-consensus/hotshot/engine/vid"
	"github.com/hotshot-consensus/hotshot/engine/viewsync"
	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hsstorage"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/networking/bridge"
	vidpkg "github.com/hotshot-consensus/hotshot/vid"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Config bundles the tunables each engine task otherwise takes as separate
// constructor arguments, so building a Node is one call instead of nine.
type Config struct {
	Timeout timeout.Config

	// RequestDelay is how long engine/request waits after a proposal is
	// validated before starting its VID catch-up round robin, giving the
	// normal dispersal path a chance to land first.
	RequestDelay time.Duration
}

// DefaultConfig matches the spec's illustrative timeout schedule plus a
// modest catch-up grace period.
func DefaultConfig() Config {
	return Config{
		Timeout:      timeout.DefaultConfig(),
		RequestDelay: 200 * time.Millisecond,
	}
}

// Node owns one participant's consensus state, storage, and task graph. It
// does not own a transport: callers supply a core.AppSender (or a
// *bridge.Bridge double as both AppSender-consumer and AppHandler) so the
// same wiring serves a real network and an in-process test harness alike.
type Node struct {
	NodeID ids.NodeID

	Consensus *hsconsensus.Consensus
	Storage   hsstorage.Storage
	Bus       *eventbus.Bus
	Bridge    *bridge.Bridge

	QuorumMembership membership.Membership
	DAMembership     membership.Membership

	registry *eventbus.Registry
	logger   log.Logger
}

// New assembles a Node: consensus state anchored at genesis, the supplied
// storage and membership, and a bridge wired against sender. reg registers
// every subsystem's Prometheus metrics; pass prometheus.NewRegistry() in
// tests that don't want to share the default global registry.
func New(
	reg prometheus.Registerer,
	logger log.Logger,
	storage hsstorage.Storage,
	quorumMembership, daMembership membership.Membership,
	sender core.AppSender,
	nodeID ids.NodeID,
	pk hstypes.PK,
	sk hstypes.SK,
	cfg Config,
) (*Node, error) {
	consensusMetrics, err := hsconsensus.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("node: registering consensus metrics: %w", err)
	}
	busMetrics, err := eventbus.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("node: registering eventbus metrics: %w", err)
	}

	consensus := hsconsensus.New(logger, consensusMetrics)
	bus := eventbus.New(logger, busMetrics)
	br := bridge.New(sender, bus, quorumMembership, nodeID, logger)
	scheme := vidpkg.NewNaiveScheme()

	n := &Node{
		NodeID:           nodeID,
		Consensus:        consensus,
		Storage:          storage,
		Bus:              bus,
		Bridge:           br,
		QuorumMembership: quorumMembership,
		DAMembership:     daMembership,
		registry:         eventbus.NewRegistry(bus, logger),
		logger:           logger,
	}

	daTask := da.New(consensus, daMembership, quorumMembership, scheme, storage, bus, nodeID, pk, sk, logger)
	vidTask := vid.New(consensus, quorumMembership, scheme, bus, nodeID, pk, sk, logger)
	qpRecvTask := quorumproposalrecv.New(consensus, quorumMembership, storage, bus, logger)
	qpTask := quorumproposal.New(consensus, quorumMembership, bus, nodeID, pk, sk, logger)
	qvTask := quorumvote.New(consensus, quorumMembership, bus, nodeID, pk, sk, logger)
	timeoutTask := timeout.New(consensus, quorumMembership, bus, cfg.Timeout, nodeID, pk, sk, logger)
	viewSyncTask := viewsync.New(quorumMembership, bus, nodeID, pk, sk, logger)
	requestTask := request.New(consensus, daMembership, quorumMembership, br, bus, nodeID, pk, sk, cfg.RequestDelay, logger)
	responseTask := response.New(consensus, quorumMembership, scheme, bus, nodeID, sk, logger)

	n.registry.Spawn("da", daTask.Run)
	n.registry.Spawn("vid", vidTask.Run)
	n.registry.Spawn("quorumproposalrecv", qpRecvTask.Run)
	n.registry.Spawn("quorumproposal", qpTask.Run)
	n.registry.Spawn("quorumvote", qvTask.Run)
	n.registry.Spawn("timeout", timeoutTask.Run)
	n.registry.Spawn("viewsync", viewSyncTask.Run)
	n.registry.Spawn("request", requestTask.Run)
	n.registry.Spawn("response", responseTask.Run)
	n.registry.Spawn("bridge", br.Run)

	return n, nil
}

// Start kicks off view 0 by publishing the genesis view-change event every
// view-driven task waits on to arm its first timer / attempt its first
// proposal.
func (n *Node) Start(ctx context.Context) {
	n.Bus.Publish(eventbus.Event{Kind: eventbus.KindViewChange, View: hstypes.GenesisView, Payload: eventbus.ViewChangePayload{View: hstypes.GenesisView}})
}

// Stop cancels every spawned task and waits for them to return.
func (n *Node) Stop() {
	n.registry.Stop()
}
