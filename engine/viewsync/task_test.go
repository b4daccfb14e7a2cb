package viewsync

import (
	"testing"
	"time"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
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

func voteFor(t *testing.T, sk hstypes.SK, member membership.Member, view hstypes.View, phase hstypes.ViewSyncPhase, round uint64) hstypes.ViewSyncVote {
	t.Helper()
	sig, err := hstypes.Sign(sk, certMsgBytes(view, phase, round))
	require.NoError(t, err)
	return hstypes.ViewSyncVote{
		View:      view,
		Phase:     phase,
		Round:     round,
		Signer:    member.PK,
		Signature: hstypes.PartialSignature{Signer: member.PK, Sig: hstypes.SignatureToBytes(sig)},
	}
}

func TestViewSyncTask_AdvancesThroughAllThreeRoundsToFinalizeCert(t *testing.T) {
	committee, sks := testCommittee(t, 4)
	mship := membership.NewStatic(committee, 4)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	// View 1's successor leader (index 2) is the relay that collects votes.
	relay := committee[2]
	task := New(mship, bus, relay.NodeID, relay.PK, sks[2], log.NewNoOpLogger())

	outCh, unsub := bus.Subscribe()
	defer unsub()

	// Round 1: PreCommit votes from all four members form a PreCommit cert,
	// which makes the relay itself cast a Commit vote (observable on the
	// bus) rather than publishing a cert-formed event directly.
	for i, member := range committee {
		task.handleVoteRecv(eventbus.ViewSyncVoteRecvPayload{Vote: voteFor(t, sks[i], member, 1, hstypes.ViewSyncPreCommitPhase, 7)})
	}
	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindViewSyncVoteRecv, ev.Kind)
		require.Equal(t, hstypes.ViewSyncCommitPhase, ev.Payload.(eventbus.ViewSyncVoteRecvPayload).Vote.Phase)
	case <-time.After(time.Second):
		t.Fatal("expected the relay to cast its own Commit-phase vote once PreCommit certified")
	}

	// Round 2: Commit votes from all four members form a Commit cert, which
	// makes the relay cast a Finalize vote.
	for i, member := range committee {
		task.handleVoteRecv(eventbus.ViewSyncVoteRecvPayload{Vote: voteFor(t, sks[i], member, 1, hstypes.ViewSyncCommitPhase, 7)})
	}
	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindViewSyncVoteRecv, ev.Kind)
		require.Equal(t, hstypes.ViewSyncFinalizePhase, ev.Payload.(eventbus.ViewSyncVoteRecvPayload).Vote.Phase)
	case <-time.After(time.Second):
		t.Fatal("expected the relay to cast its own Finalize-phase vote once Commit certified")
	}

	// Round 3: Finalize votes from all four members form the Finalize cert,
	// published for the quorum-proposal task to consume.
	for i, member := range committee {
		task.handleVoteRecv(eventbus.ViewSyncVoteRecvPayload{Vote: voteFor(t, sks[i], member, 1, hstypes.ViewSyncFinalizePhase, 7)})
	}
	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindViewSyncCertFormed, ev.Kind)
		require.Equal(t, hstypes.View(2), ev.View)
		cert := ev.Payload.(eventbus.ViewSyncCertFormedPayload).Certificate
		require.Equal(t, hstypes.ViewSyncFinalizePhase, cert.Phase)
	case <-time.After(time.Second):
		t.Fatal("expected a published Finalize certificate")
	}
}
