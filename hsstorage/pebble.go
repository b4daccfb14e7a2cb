package hsstorage

import (
	"context"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
)

// Key prefixes for the flat keyspace PebbleStorage maintains over a single
// database.Database handle, following the pack's convention of namespacing
// a shared KV store by a short prefix byte rather than opening one handle
// per column family.
const (
	prefixDA byte = iota
	prefixVID
	prefixHighQC
	prefixLeaves
	prefixViewMap
)

// PebbleStorage is a durable Storage backed by a github.com/luxfi/database
// handle (Pebble-backed in production). Each write is one db.Put, and
// AppendDA/AppendVID/UpdateHighQC return only after that Put has returned,
// the contract callers rely on to gate voting.
type PebbleStorage struct {
	db database.Database
}

// NewPebbleStorage wraps an already-opened database handle.
func NewPebbleStorage(db database.Database) *PebbleStorage {
	return &PebbleStorage{db: db}
}

var _ Storage = (*PebbleStorage)(nil)

func viewKey(prefix byte, view hstypes.View) []byte {
	key := make([]byte, 1+8)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], uint64(view))
	return key
}

func staticKey(prefix byte) []byte {
	return []byte{prefix}
}

func (p *PebbleStorage) AppendDA(_ context.Context, view hstypes.View, proposal DaProposalRecord) error {
	enc, err := cbor.Marshal(proposal)
	if err != nil {
		return err
	}
	return p.db.Put(viewKey(prefixDA, view), enc)
}

func (p *PebbleStorage) AppendVID(_ context.Context, view hstypes.View, share VIDRecord) error {
	enc, err := cbor.Marshal(share)
	if err != nil {
		return err
	}
	return p.db.Put(viewKey(prefixVID, view), enc)
}

func (p *PebbleStorage) UpdateHighQC(_ context.Context, qc hstypes.QuorumCertificate) error {
	cur, err := p.LoadHighQC(context.Background())
	if err != nil {
		return err
	}
	if qc.ViewNumber <= cur.ViewNumber && !cur.IsGenesis {
		return nil
	}
	enc, err := cbor.Marshal(qc)
	if err != nil {
		return err
	}
	return p.db.Put(staticKey(prefixHighQC), enc)
}

// checkpoint is the on-disk shape of one undecided-state snapshot, stored
// as a single value so the restart path reads it back atomically.
type checkpoint struct {
	Leaves  map[ids.ID]*hstypes.Leaf
	ViewMap map[hstypes.View]hstypes.ViewEntry
}

func (p *PebbleStorage) UpdateUndecidedState(_ context.Context, leaves map[ids.ID]*hstypes.Leaf, viewMap map[hstypes.View]hstypes.ViewEntry) error {
	enc, err := cbor.Marshal(checkpoint{Leaves: leaves, ViewMap: viewMap})
	if err != nil {
		return err
	}
	return p.db.Put(staticKey(prefixLeaves), enc)
}

func (p *PebbleStorage) LoadUndecidedState(_ context.Context) (map[ids.ID]*hstypes.Leaf, map[hstypes.View]hstypes.ViewEntry, error) {
	has, err := p.db.Has(staticKey(prefixLeaves))
	if err != nil {
		return nil, nil, err
	}
	if !has {
		return map[ids.ID]*hstypes.Leaf{}, map[hstypes.View]hstypes.ViewEntry{}, nil
	}
	raw, err := p.db.Get(staticKey(prefixLeaves))
	if err != nil {
		return nil, nil, err
	}
	var cp checkpoint
	if err := cbor.Unmarshal(raw, &cp); err != nil {
		return nil, nil, err
	}
	return cp.Leaves, cp.ViewMap, nil
}

func (p *PebbleStorage) LoadHighQC(_ context.Context) (hstypes.QuorumCertificate, error) {
	has, err := p.db.Has(staticKey(prefixHighQC))
	if err != nil {
		return hstypes.QuorumCertificate{}, err
	}
	if !has {
		return hstypes.GenesisQC(), nil
	}
	raw, err := p.db.Get(staticKey(prefixHighQC))
	if err != nil {
		return hstypes.QuorumCertificate{}, err
	}
	var qc hstypes.QuorumCertificate
	if err := cbor.Unmarshal(raw, &qc); err != nil {
		return hstypes.QuorumCertificate{}, err
	}
	return qc, nil
}

func (p *PebbleStorage) Close() error {
	return p.db.Close()
}
