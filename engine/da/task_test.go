package da

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hsstorage"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/vid"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func testCommittee(t *testing.T, n int) ([]membership.Member, []hstypes.SK) {
	t.Helper()
	members := make([]membership.Member, n)
	sks := make([]hstypes.SK, n)
	for i := 0; i < n; i++ {
		sk, pk := hstypes.NewTestKey()
		sks[i] = sk
		members[i] = membership.Member{NodeID: ids.GenerateTestNodeID(), PK: pk, Stake: 1}
	}
	return members, sks
}

func TestDaTask_ValidatesSignsAndVotes(t *testing.T) {
	committee, sks := testCommittee(t, 4)
	mship := membership.NewStatic(committee, 4)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	storage := hsstorage.NewMemoryStorage()
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	leaderIdx := 1 // Leader(view) = quorum[view % len(quorum)]; view 1 -> index 1
	replica := committee[2]
	replicaSK := sks[2]

	task := New(consensus, mship, mship, vid.NewNaiveScheme(), storage, bus, replica.NodeID, replica.PK, replicaSK, log.NewNoOpLogger())
	task.curView = 1

	outCh, unsub := bus.Subscribe()
	defer unsub()

	txns := hstypes.EncodedTransactions("hello world")
	sum := sha256.Sum256(txns)
	leaderSig, err := hstypes.Sign(sks[leaderIdx], sum[:])
	require.NoError(t, err)

	proposal := &wire.DaProposal{
		View:              1,
		EncodedTxns:       txns,
		PayloadCommitment: sum[:],
		LeaderSignature:   hstypes.SignatureToBytes(leaderSig),
	}

	task.handle(context.Background(), eventbus.Event{
		Kind: eventbus.KindDaProposalRecv,
		View: 1,
		Payload: eventbus.DaProposalRecvPayload{
			Proposal: proposal,
			Sender:   committee[leaderIdx].NodeID,
		},
	})

	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindDaProposalValidated, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a validated-proposal event")
	}

	task.handle(context.Background(), eventbus.Event{
		Kind: eventbus.KindDaProposalValidated,
		View: 1,
		Payload: eventbus.DaProposalValidatedPayload{
			Proposal: proposal,
			Sender:   committee[leaderIdx].NodeID,
		},
	})

	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindDaVoteSend, ev.Kind)
		vote := ev.Payload.(eventbus.DaVoteSendPayload).Vote
		require.Equal(t, hstypes.View(1), vote.View)
	case <-time.After(time.Second):
		t.Fatal("expected a vote-send event")
	}

	payload, ok := consensus.SavedPayload(1)
	require.True(t, ok)
	require.Equal(t, txns, payload)
}

func TestDaTask_RejectsWrongLeader(t *testing.T) {
	committee, sks := testCommittee(t, 4)
	mship := membership.NewStatic(committee, 4)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	storage := hsstorage.NewMemoryStorage()
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	observer := committee[0]
	task := New(consensus, mship, mship, vid.NewNaiveScheme(), storage, bus, observer.NodeID, observer.PK, sks[0], log.NewNoOpLogger())
	task.curView = 1

	_, unsub := bus.Subscribe()
	defer unsub()

	txns := hstypes.EncodedTransactions("x")
	sum := sha256.Sum256(txns)
	// Claims to be sent by the view-1 leader (index 1) but is actually
	// signed by a different committee member's key.
	sig, err := hstypes.Sign(sks[2], sum[:])
	require.NoError(t, err)

	proposal := &wire.DaProposal{
		View:              1,
		EncodedTxns:       txns,
		PayloadCommitment: sum[:],
		LeaderSignature:   hstypes.SignatureToBytes(sig),
	}

	task.handle(context.Background(), eventbus.Event{
		Kind: eventbus.KindDaProposalRecv,
		View: 1,
		Payload: eventbus.DaProposalRecvPayload{
			Proposal: proposal,
			Sender:   committee[1].NodeID,
		},
	})

	_, ok := consensus.SavedPayload(1)
	require.False(t, ok, "a proposal from a non-leader must never be persisted or voted on")
}
