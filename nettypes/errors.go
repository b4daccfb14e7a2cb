// Package nettypes classifies the failure modes the networking bridge (C15)
// can report back to a task, mirroring the pack's wrappers.Errs
// multi-error aggregation for the "several sends failed" case while using
// cockroachdb/errors for single-error wrapping, since its hint/detail
// annotations let a failed broadcast surface which peer and which stage
// (serialize vs. deliver) failed without string-matching the message.
package nettypes

import (
	"github.com/cockroachdb/errors"
	"github.com/hotshot-consensus/hotshot/utils/wrappers"
)

// Kind classifies a NetworkError the way the task graph needs to branch on
// failure (§4.15, §GLOSSARY "NetworkError"): some are retryable, some mean
// the peer is simply unknown, and ShutDown means the bridge itself is
// gone.
type Kind int

const (
	KindTimeout Kind = iota
	KindFailedToSerialize
	KindFailedToDeserialize
	KindCouldNotDeliver
	KindNoSuchNode
	KindShutDown
	KindNotFound
)

// NetworkError is a single classified networking failure.
type NetworkError struct {
	Kind Kind
	Peer string
	Err  error
}

func (e *NetworkError) Error() string {
	base := errors.Newf("nettypes: %s", kindString(e.Kind))
	if e.Peer != "" {
		base = errors.WithDetail(base, "peer: "+e.Peer)
	}
	if e.Err != nil {
		base = errors.CombineErrors(base, e.Err)
	}
	return base.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

func kindString(k Kind) string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindFailedToSerialize:
		return "failed to serialize"
	case KindFailedToDeserialize:
		return "failed to deserialize"
	case KindCouldNotDeliver:
		return "could not deliver"
	case KindNoSuchNode:
		return "no such node"
	case KindShutDown:
		return "network shut down"
	case KindNotFound:
		return "not found"
	default:
		return "unknown network error"
	}
}

// New wraps err as a classified NetworkError for peer (peer may be empty
// for broadcast-wide failures).
func New(kind Kind, peer string, err error) *NetworkError {
	return &NetworkError{Kind: kind, Peer: peer, Err: err}
}

// MultiError aggregates several NetworkErrors from a fan-out broadcast,
// reusing the pack's wrappers.Errs collector so partial-broadcast failures
// report every failed peer rather than only the first.
type MultiError struct {
	errs wrappers.Errs
}

// Add records one failure, ignoring nil.
func (m *MultiError) Add(err error) { m.errs.Add(err) }

// Errored reports whether any failure was recorded.
func (m *MultiError) Errored() bool { return m.errs.Errored() }

// Err returns nil if nothing failed, the single error if exactly one
// failure was recorded, or a combined multi-line error otherwise.
func (m *MultiError) Err() error { return m.errs.Err() }
