// Package hsstorage implements the abstract, write-mostly durability
// contract (C3): persisting DA proposals, VID shares and the high QC before
// a node votes or proposes on them, plus periodic undecided-state
// checkpoints for restart recovery (§4.3, §6 "Persisted state").
package hsstorage

import (
	"context"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/ids"
)

// Storage is the durable append-only store every node owns. Implementations
// must make AppendDA/AppendVID/UpdateHighQC durable (fsync'd, or backed by a
// crash-safe engine) before returning success, since callers abort the
// corresponding vote/proposal on error (§4.3, §7).
type Storage interface {
	// AppendDA persists a DA proposal before the node votes for it.
	AppendDA(ctx context.Context, view hstypes.View, proposal DaProposalRecord) error

	// AppendVID persists the node's own VID share before it is dispersed.
	AppendVID(ctx context.Context, view hstypes.View, share VIDRecord) error

	// UpdateHighQC persists a strictly-higher QC before the node votes on
	// the proposal that carries it.
	UpdateHighQC(ctx context.Context, qc hstypes.QuorumCertificate) error

	// UpdateUndecidedState checkpoints a snapshot of saved leaves and the
	// validated state map so a restart can resume without replaying the
	// network from genesis.
	UpdateUndecidedState(ctx context.Context, leaves map[ids.ID]*hstypes.Leaf, viewMap map[hstypes.View]hstypes.ViewEntry) error

	// LoadUndecidedState returns the most recent checkpoint, used to seed
	// Consensus on restart (§6).
	LoadUndecidedState(ctx context.Context) (map[ids.ID]*hstypes.Leaf, map[hstypes.View]hstypes.ViewEntry, error)

	// LoadHighQC returns the last persisted high QC, or the genesis QC if
	// none was ever persisted.
	LoadHighQC(ctx context.Context) (hstypes.QuorumCertificate, error)

	Close() error
}

// DaProposalRecord is the durable shape of a DA proposal: the payload plus
// the leader's signature over it, sufficient to reconstruct the original
// wire message on catch-up.
type DaProposalRecord struct {
	View              hstypes.View
	EncodedTxns       hstypes.EncodedTransactions
	PayloadCommitment ids.ID
	LeaderSignature   []byte
}

// VIDRecord is the durable shape of one VID share this node computed for
// itself, named distinctly from hsconsensus.VidShareEntry to keep the
// storage record independent of the in-memory representation.
type VIDRecord struct {
	Self       ids.NodeID
	Share      []byte
	Commitment []byte
}

// NewVIDRecord builds the durable record for self's share of view.
func NewVIDRecord(self ids.NodeID, share, commitment []byte) VIDRecord {
	return VIDRecord{Self: self, Share: share, Commitment: commitment}
}
