package core

import (
	"context"
	"time"
)

// NodeStore is the read side of the node storage the engine consults.
type NodeStore interface {
	// Exists reports whether the node is present in the repository.
	Exists(ctx context.Context, ref NodeRef) (bool, error)

	// GetProperty returns the current value of a property. The boolean is
	// false when the property is not set.
	GetProperty(ctx context.Context, ref NodeRef, name QName) (any, bool, error)

	// HasAspect reports whether the node carries the given aspect.
	HasAspect(ctx context.Context, ref NodeRef, aspect QName) (bool, error)
}

// LockService answers lock questions for the current identity.
type LockService interface {
	// IsLockedReadOnly reports whether the node is locked in a way that
	// prevents the current identity from modifying it.
	IsLockedReadOnly(ctx context.Context, ref NodeRef) (bool, error)
}

// VersionStore owns the version history of nodes.
type VersionStore interface {
	// LatestVersionTime returns the creation time of the head version.
	// The boolean is false when the node has no history.
	LatestVersionTime(ctx context.Context, ref NodeRef) (time.Time, bool, error)

	// CreateVersion records a new snapshot of the node.
	CreateVersion(ctx context.Context, req VersionRequest) (Version, error)

	// DeleteHistory removes every version of the node. It is not reversible.
	DeleteHistory(ctx context.Context, ref NodeRef) error
}

// NamespaceResolver maps namespace prefixes to URIs.
type NamespaceResolver interface {
	NamespaceURI(prefix string) (string, bool)
}

// Release ends an identity scope acquired from an Authenticator.
type Release func()

// Authenticator carries the identity work runs under.
type Authenticator interface {
	// CurrentUser is the identity of the caller.
	CurrentUser(ctx context.Context) string

	// SystemUser is the privileged identity.
	SystemUser() string

	// Acquire returns a context running as user. The caller must invoke
	// the release on every exit path.
	Acquire(ctx context.Context, user string) (context.Context, Release, error)
}

// MessageSource resolves description keys to human readable text.
type MessageSource interface {
	Message(key string) string
}

type contextKey string

// ChangeReasonKey is the context key for passing the commit message of a unit of work.
const ChangeReasonKey contextKey = "change_reason"
