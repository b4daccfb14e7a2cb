package membership

import (
	"context"
	"sort"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/ids"
	"github.com/luxfi/validators"
)

// ValidatorSetSource is the one validators.State method this package needs.
// Declared locally rather than depending on the full validators.State
// interface, so a validators.State value (or any narrower stand-in, e.g. a
// gRPC-backed validator_state client) satisfies it without pulling in
// methods FromValidatorState has no use for.
type ValidatorSetSource interface {
	GetValidatorSet(ctx context.Context, height uint64, subnetID ids.ID) (map[ids.NodeID]*validators.GetValidatorOutput, error)
}

// FromValidatorState builds a Static committee snapshot from a
// validators.State at a fixed height: the protocol's own static-committee
// configuration option (§6, "known nodes with stake") sourced from the
// shared validator/stake-table manager instead of a hand-rolled config
// file, for deployments that already run one.
//
// Grounded on validator/validator_state_test.go's GetValidatorSet(ctx,
// height, subnetID) / GetValidatorOutput{NodeID, PublicKey, Weight} shape.
// Members lacking a BLS key (PublicKey == nil, e.g. a validator that hasn't
// registered a signing key yet) are excluded: they cannot contribute to a
// threshold signature.
func FromValidatorState(ctx context.Context, state ValidatorSetSource, height uint64, subnetID ids.ID, daCommitteeSize int) (*Static, error) {
	vdrs, err := state.GetValidatorSet(ctx, height, subnetID)
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(vdrs))
	for nodeID, out := range vdrs {
		if out.PublicKey == nil {
			continue
		}
		members = append(members, Member{NodeID: nodeID, PK: hstypes.PK(out.PublicKey), Stake: out.Weight})
	}
	// GetValidatorSet returns a map; sort by NodeID for a reproducible
	// canonical order, since every node computing this snapshot must agree
	// on bitset indices.
	sort.Slice(members, func(i, j int) bool {
		return members[i].NodeID.String() < members[j].NodeID.String()
	})

	return NewStatic(members, daCommitteeSize), nil
}
