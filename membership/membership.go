// Package membership provides the fixed, ordered committee lookups the
// consensus tasks need: leader-for-view, quorum committee, and DA committee.
// A Static committee is built from a member list, or by FromValidatorState
// from a validator-set snapshot.
package membership

import (
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/ids"
)

// Member is one committee seat: a stable identity, its signing key and its
// stake weight.
type Member struct {
	NodeID ids.NodeID
	PK     hstypes.PK
	Stake  uint64
}

// Membership resolves per-view leadership and committee membership for both
// the quorum committee and the (possibly smaller) DA committee, following
// §4's `quorum_membership`/`da_membership` contract.
type Membership interface {
	// Leader returns the quorum leader for view.
	Leader(view hstypes.View) Member

	// DALeader returns the DA-committee leader for view. In this
	// implementation the DA committee shares the quorum leader rotation.
	DALeader(view hstypes.View) Member

	// QuorumCommittee returns the ordered quorum committee (order is the
	// canonical signer-bitset index order used by ThresholdSignature).
	QuorumCommittee() []Member

	// DACommittee returns the ordered DA committee, a subset of
	// QuorumCommittee.
	DACommittee() []Member

	// QuorumThreshold returns the minimum stake a quorum certificate needs
	// (accumulated stake >= this value): floor(2*totalStake/3) + 1.
	QuorumThreshold() uint64

	// DAThreshold returns the minimum stake threshold for a DA certificate.
	DAThreshold() uint64

	// IsQuorumMember reports whether nodeID sits on the quorum committee.
	IsQuorumMember(nodeID ids.NodeID) bool

	// IsDAMember reports whether nodeID sits on the DA committee.
	IsDAMember(nodeID ids.NodeID) bool

	// IndexOf returns a member's canonical bitset index within
	// QuorumCommittee, or -1 if absent.
	IndexOf(nodeID ids.NodeID) int
}

// Static is a fixed-committee Membership: the round-robin leader rotation
// over QuorumCommittee, with the DA committee configured as a (possibly
// proper) prefix of the same ordered list. This mirrors the "known nodes
// with stake" configuration option (§6) — no dynamic re-staking.
type Static struct {
	quorum []Member
	da     []Member
	index  map[ids.NodeID]int
}

// NewStatic builds a Static membership from an ordered quorum committee and
// the size of its DA-committee prefix.
func NewStatic(quorum []Member, daCommitteeSize int) *Static {
	if daCommitteeSize > len(quorum) {
		daCommitteeSize = len(quorum)
	}
	idx := make(map[ids.NodeID]int, len(quorum))
	for i, m := range quorum {
		idx[m.NodeID] = i
	}
	return &Static{
		quorum: quorum,
		da:     append([]Member(nil), quorum[:daCommitteeSize]...),
		index:  idx,
	}
}

func (s *Static) Leader(view hstypes.View) Member {
	return s.quorum[int(view)%len(s.quorum)]
}

func (s *Static) DALeader(view hstypes.View) Member {
	return s.Leader(view)
}

func (s *Static) QuorumCommittee() []Member { return s.quorum }
func (s *Static) DACommittee() []Member     { return s.da }

func (s *Static) totalStake(members []Member) uint64 {
	var total uint64
	for _, m := range members {
		total += m.Stake
	}
	return total
}

// threshold implements the strict BFT supermajority: floor(2*total/3) + 1,
// e.g. 3 of 4 equal-stake members.
func threshold(total uint64) uint64 {
	return (2*total)/3 + 1
}

func (s *Static) QuorumThreshold() uint64 { return threshold(s.totalStake(s.quorum)) }
func (s *Static) DAThreshold() uint64     { return threshold(s.totalStake(s.da)) }

func (s *Static) IsQuorumMember(nodeID ids.NodeID) bool {
	_, ok := s.index[nodeID]
	return ok
}

func (s *Static) IsDAMember(nodeID ids.NodeID) bool {
	for _, m := range s.da {
		if m.NodeID == nodeID {
			return true
		}
	}
	return false
}

func (s *Static) IndexOf(nodeID ids.NodeID) int {
	if i, ok := s.index[nodeID]; ok {
		return i
	}
	return -1
}

// PublicKeys returns the ordered public keys of members, used directly by
// ThresholdSignature.IsValidCert.
func PublicKeys(members []Member) []hstypes.PK {
	pks := make([]hstypes.PK, len(members))
	for i, m := range members {
		pks[i] = m.PK
	}
	return pks
}

var _ Membership = (*Static)(nil)
