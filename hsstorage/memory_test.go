package hsstorage

import (
	"context"
	"testing"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_HighQCMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	qc, err := s.LoadHighQC(ctx)
	require.NoError(t, err)
	require.True(t, qc.IsGenesis)

	higher := hstypes.QuorumCertificate{ViewNumber: 5}
	require.NoError(t, s.UpdateHighQC(ctx, higher))

	got, err := s.LoadHighQC(ctx)
	require.NoError(t, err)
	require.Equal(t, hstypes.View(5), got.ViewNumber)

	stale := hstypes.QuorumCertificate{ViewNumber: 2}
	require.NoError(t, s.UpdateHighQC(ctx, stale))

	got, err = s.LoadHighQC(ctx)
	require.NoError(t, err)
	require.Equal(t, hstypes.View(5), got.ViewNumber, "stale QC must not overwrite a higher one")
}

func TestMemoryStorage_UndecidedStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	leaf := hstypes.GenesisLeaf()
	commit, err := leaf.Commit()
	require.NoError(t, err)

	leaves := map[ids.ID]*hstypes.Leaf{commit: leaf}
	viewMap := map[hstypes.View]hstypes.ViewEntry{0: hstypes.LeafEntry(commit, nil, nil)}

	require.NoError(t, s.UpdateUndecidedState(ctx, leaves, viewMap))

	gotLeaves, gotViewMap, err := s.LoadUndecidedState(ctx)
	require.NoError(t, err)
	require.Len(t, gotLeaves, 1)
	require.Len(t, gotViewMap, 1)
	require.Equal(t, leaf.View, gotLeaves[commit].View)
}

func TestMemoryStorage_AppendDAAndVID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	require.NoError(t, s.AppendDA(ctx, 3, DaProposalRecord{View: 3, LeaderSignature: []byte("sig")}))
	require.NoError(t, s.AppendVID(ctx, 3, NewVIDRecord(ids.GenerateTestNodeID(), []byte("share"), []byte("commit"))))

	require.Equal(t, []byte("sig"), s.daProposals[3].LeaderSignature)
	require.Equal(t, []byte("share"), s.vidShares[3].Share)
}
