// Package hstypes defines the wire-level data model shared by every HotShot
// consensus task: views, leaves, certificates and the tagged view-map entry.
package hstypes

import "fmt"

// View is a monotonic round number. The leader for a view is determined by
// Membership.Leader(view).
type View uint64

// GenesisView is the distinguished view at which the chain starts.
const GenesisView View = 0

// IsGenesis reports whether v is the genesis view.
func (v View) IsGenesis() bool {
	return v == GenesisView
}

func (v View) String() string {
	return fmt.Sprintf("view=%d", uint64(v))
}
