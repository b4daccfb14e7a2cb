package quorumproposal

import (
	"testing"
	"time"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
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

// seedParent installs a parent leaf at view 1 and a QC justifying it as the
// node's high QC, so view-2 proposal assembly has somewhere to chain from
// without depending on the genesis QC's vacuous LeafCommit.
func seedParent(t *testing.T, consensus *hsconsensus.Consensus) ids.ID {
	t.Helper()
	parent := &hstypes.Leaf{View: 1, ParentCommit: ids.Empty, JustifyQC: hstypes.GenesisQC()}
	commit, err := consensus.UpdateSavedLeaves(parent)
	require.NoError(t, err)
	consensus.UpdateHighQC(hstypes.QuorumCertificate{
		Data:       hstypes.CertData{LeafCommit: commit, View: 1},
		ViewNumber: 1,
	})
	return commit
}

func TestQuorumProposalTask_PublishesOnceCommitmentAndVidShareArrive(t *testing.T) {
	committee, sks := testCommittee(t, 4)
	mship := membership.NewStatic(committee, 4)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	seedParent(t, consensus)

	leaderIdx := 2 // Leader(view) = quorum[view % len(quorum)]; view 2 -> index 2
	leader := committee[leaderIdx]
	task := New(consensus, mship, bus, leader.NodeID, leader.PK, sks[leaderIdx], log.NewNoOpLogger())

	outCh, unsub := bus.Subscribe()
	defer unsub()

	txns := hstypes.EncodedTransactions("block-2-payload")
	require.NoError(t, consensus.UpdateSavedPayloads(2, txns))
	commitment := ids.GenerateTestID()

	task.handle(eventbus.Event{
		Kind: eventbus.KindDaCertFormed,
		View: 2,
		Payload: eventbus.DaCertFormedPayload{
			Certificate: hstypes.DaCertificate{
				Data:       hstypes.CertData{LeafCommit: commitment, View: 2},
				ViewNumber: 2,
			},
		},
	})

	// Commitment alone is not enough: no publish yet.
	select {
	case ev := <-outCh:
		t.Fatalf("unexpected early publish: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	task.handle(eventbus.Event{
		Kind: eventbus.KindVidDisperseSend,
		View: 2,
		Payload: eventbus.VidDisperseSendPayload{
			Recipient: leader.NodeID,
			Disperse:  &wire.VidDisperseMsg{View: 2, Share: []byte("my-share")},
		},
	})

	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindQuorumProposalSend, ev.Kind)
		signed := ev.Payload.(eventbus.QuorumProposalSendPayload).Proposal
		require.Equal(t, hstypes.View(2), signed.Proposal.View)
		require.Equal(t, commitment, signed.Proposal.BlockHeader.PayloadCommitment)
		require.NotNil(t, signed.Signature)
	case <-time.After(time.Second):
		t.Fatal("expected a proposal-send event once both inputs arrived")
	}

	last, ok := consensus.LastProposal(2)
	require.True(t, ok)
	require.Equal(t, hstypes.View(2), last.Proposal.View)
}

func TestQuorumProposalTask_IgnoresNonLeaderEvents(t *testing.T) {
	committee, sks := testCommittee(t, 4)
	mship := membership.NewStatic(committee, 4)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	seedParent(t, consensus)

	// Node 0 is not the view-2 leader (that's index 2).
	self := committee[0]
	task := New(consensus, mship, bus, self.NodeID, self.PK, sks[0], log.NewNoOpLogger())

	_, unsub := bus.Subscribe()
	defer unsub()

	require.NoError(t, consensus.UpdateSavedPayloads(2, hstypes.EncodedTransactions("x")))
	task.handle(eventbus.Event{
		Kind: eventbus.KindDaCertFormed,
		View: 2,
		Payload: eventbus.DaCertFormedPayload{
			Certificate: hstypes.DaCertificate{
				Data:       hstypes.CertData{LeafCommit: ids.GenerateTestID(), View: 2},
				ViewNumber: 2,
			},
		},
	})

	_, ok := consensus.LastProposal(2)
	require.False(t, ok, "a non-leader must never assemble a proposal")
}
