// Package uow carries the state scoped to one unit of work: an atomic batch
// of repository changes that commits or rolls back as a whole.
//
// A UnitOfWork is owned by exactly one logical thread of control. Events of
// one unit of work are processed sequentially, so nothing here locks.
// Different units of work never share state.
package uow

import (
	"github.com/google/uuid"

	"github.com/aretw0/autoversion/pkg/core"
)

// Hook names a handler that can be suspended while it performs its own
// side effects.
type Hook string

// HookUpdateProperties is the properties-update handler.
const HookUpdateProperties Hook = "update_properties"

// UnitOfWork is the explicit context object handed through the dispatch
// call chain. The zero value is not usable; call New.
type UnitOfWork struct {
	id        string
	versioned map[core.NodeRef]struct{}
	suspended map[Hook]int
}

// New starts the bookkeeping for a unit of work.
func New() *UnitOfWork {
	return &UnitOfWork{id: uuid.NewString()}
}

// ID identifies the unit of work in logs.
func (u *UnitOfWork) ID() string {
	return u.id
}

// AlreadyVersioned reports whether a version of ref was created in this unit of work.
func (u *UnitOfWork) AlreadyVersioned(ref core.NodeRef) bool {
	_, ok := u.versioned[ref]
	return ok
}

// MarkVersioned records that ref has been versioned. The set is allocated on
// first use. It returns false when ref was already recorded.
func (u *UnitOfWork) MarkVersioned(ref core.NodeRef) bool {
	if u.versioned == nil {
		u.versioned = make(map[core.NodeRef]struct{})
	}
	if _, ok := u.versioned[ref]; ok {
		return false
	}
	u.versioned[ref] = struct{}{}
	return true
}

// Versioned returns the number of nodes versioned so far.
func (u *UnitOfWork) Versioned() int {
	return len(u.versioned)
}

// Suspend disables hook until the returned release is called. Suspensions
// nest; release is idempotent.
func (u *UnitOfWork) Suspend(hook Hook) (release func()) {
	if u.suspended == nil {
		u.suspended = make(map[Hook]int)
	}
	u.suspended[hook]++

	released := false
	return func() {
		if released {
			return
		}
		released = true
		if u.suspended[hook]--; u.suspended[hook] <= 0 {
			delete(u.suspended, hook)
		}
	}
}

// Suspended reports whether hook is currently disabled.
func (u *UnitOfWork) Suspended(hook Hook) bool {
	return u.suspended[hook] > 0
}
