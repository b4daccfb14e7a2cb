package hsstorage

import (
	"context"
	"sync"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/ids"
)

// MemoryStorage is an in-process Storage backed by plain maps under a
// single RWMutex, grounded on the shared-memory idiom used for the pack's
// cross-chain atomic store. Suitable for tests and for nodes that accept
// full state replay on restart.
type MemoryStorage struct {
	mu sync.RWMutex

	daProposals map[hstypes.View]DaProposalRecord
	vidShares   map[hstypes.View]VIDRecord
	highQC      hstypes.QuorumCertificate

	leaves  map[ids.ID]*hstypes.Leaf
	viewMap map[hstypes.View]hstypes.ViewEntry
}

// NewMemoryStorage returns an empty MemoryStorage seeded with the genesis
// QC as its high QC.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		daProposals: make(map[hstypes.View]DaProposalRecord),
		vidShares:   make(map[hstypes.View]VIDRecord),
		highQC:      hstypes.GenesisQC(),
		leaves:      make(map[ids.ID]*hstypes.Leaf),
		viewMap:     make(map[hstypes.View]hstypes.ViewEntry),
	}
}

var _ Storage = (*MemoryStorage)(nil)

func (m *MemoryStorage) AppendDA(_ context.Context, view hstypes.View, proposal DaProposalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daProposals[view] = proposal
	return nil
}

func (m *MemoryStorage) AppendVID(_ context.Context, view hstypes.View, share VIDRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vidShares[view] = share
	return nil
}

func (m *MemoryStorage) UpdateHighQC(_ context.Context, qc hstypes.QuorumCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qc.ViewNumber <= m.highQC.ViewNumber && !m.highQC.IsGenesis {
		return nil
	}
	m.highQC = qc
	return nil
}

func (m *MemoryStorage) UpdateUndecidedState(_ context.Context, leaves map[ids.ID]*hstypes.Leaf, viewMap map[hstypes.View]hstypes.ViewEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves = make(map[ids.ID]*hstypes.Leaf, len(leaves))
	for k, v := range leaves {
		m.leaves[k] = v
	}
	m.viewMap = make(map[hstypes.View]hstypes.ViewEntry, len(viewMap))
	for k, v := range viewMap {
		m.viewMap[k] = v
	}
	return nil
}

func (m *MemoryStorage) LoadUndecidedState(_ context.Context) (map[ids.ID]*hstypes.Leaf, map[hstypes.View]hstypes.ViewEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	leaves := make(map[ids.ID]*hstypes.Leaf, len(m.leaves))
	for k, v := range m.leaves {
		leaves[k] = v
	}
	viewMap := make(map[hstypes.View]hstypes.ViewEntry, len(m.viewMap))
	for k, v := range m.viewMap {
		viewMap[k] = v
	}
	return leaves, viewMap, nil
}

func (m *MemoryStorage) LoadHighQC(_ context.Context) (hstypes.QuorumCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highQC, nil
}

func (m *MemoryStorage) Close() error { return nil }
