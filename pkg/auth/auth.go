// Package auth carries the acting identity in the context.
package auth

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/aretw0/autoversion/pkg/core"
)

type contextKey string

const userKey contextKey = "run_as_user"

// Default identities.
const (
	SystemUser    = "System"
	AnonymousUser = "guest"
)

// WithUser returns a context acting as user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFrom returns the identity carried by ctx, if any.
func UserFrom(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey).(string)
	return user, ok && user != ""
}

// Authenticator implements core.Authenticator on context values. Acquiring an
// identity never changes the caller's context, so the caller's identity is
// back in effect as soon as the scope is released.
type Authenticator struct {
	system string
	logger *slog.Logger
	active atomic.Int64
}

// NewAuthenticator creates an Authenticator. An empty system name falls back to SystemUser.
func NewAuthenticator(system string, logger *slog.Logger) *Authenticator {
	if system == "" {
		system = SystemUser
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Authenticator{system: system, logger: logger}
}

// CurrentUser implements core.Authenticator.
func (a *Authenticator) CurrentUser(ctx context.Context) string {
	if user, ok := UserFrom(ctx); ok {
		return user
	}
	return AnonymousUser
}

// SystemUser implements core.Authenticator.
func (a *Authenticator) SystemUser() string {
	return a.system
}

// Acquire implements core.Authenticator.
func (a *Authenticator) Acquire(ctx context.Context, user string) (context.Context, core.Release, error) {
	previous := a.CurrentUser(ctx)
	a.active.Add(1)
	a.logger.Debug("identity acquired", "user", user, "previous", previous)

	var released atomic.Bool
	return WithUser(ctx, user), func() {
		if released.CompareAndSwap(false, true) {
			a.active.Add(-1)
			a.logger.Debug("identity released", "user", user, "restored", previous)
		}
	}, nil
}

// Active returns the number of identity scopes not yet released.
func (a *Authenticator) Active() int64 {
	return a.active.Load()
}

var _ core.Authenticator = (*Authenticator)(nil)
