package membership

import (
	"context"
	"testing"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/ids"
	"github.com/luxfi/validators"
	"github.com/stretchr/testify/require"
)

type fakeValidatorSetSource struct {
	set map[ids.NodeID]*validators.GetValidatorOutput
}

func (f fakeValidatorSetSource) GetValidatorSet(ctx context.Context, height uint64, subnetID ids.ID) (map[ids.NodeID]*validators.GetValidatorOutput, error) {
	return f.set, nil
}

func TestFromValidatorState_BuildsOrderedCommitteeExcludingKeylessValidators(t *testing.T) {
	_, pk0 := hstypes.NewTestKey()
	_, pk1 := hstypes.NewTestKey()

	n0, n1, n2 := ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID()
	source := fakeValidatorSetSource{set: map[ids.NodeID]*validators.GetValidatorOutput{
		n0: {NodeID: n0, PublicKey: pk0, Weight: 3},
		n1: {NodeID: n1, PublicKey: pk1, Weight: 5},
		n2: {NodeID: n2, PublicKey: nil, Weight: 9}, // no signing key registered yet
	}}

	mship, err := FromValidatorState(context.Background(), source, 100, ids.GenerateTestID(), 2)
	require.NoError(t, err)
	require.Len(t, mship.QuorumCommittee(), 2, "the keyless validator must be excluded")
	require.False(t, mship.IsQuorumMember(n2))
	require.True(t, mship.IsQuorumMember(n0))
	require.True(t, mship.IsQuorumMember(n1))

	// Canonical order must be reproducible across independent calls.
	again, err := FromValidatorState(context.Background(), source, 100, ids.GenerateTestID(), 2)
	require.NoError(t, err)
	require.Equal(t, mship.QuorumCommittee(), again.QuorumCommittee())
}
