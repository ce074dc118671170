// Package authstate tracks whether the client holds a session.
//
// A Controller owns one State and mutates it from a single goroutine that
// handles one event at a time: commands from the caller (mount, login,
// logout, re-check, route change) and completions of the network calls it
// started.  Network calls run in their own goroutines and post their
// results back as events, so the loop never blocks on I/O.
//
// Ordering rules:
//   - a login or logout owns the state until it settles; re-checks that
//     arrive meanwhile are dropped, not queued;
//   - every state-owning operation bumps an epoch, and a check result
//     tagged with an older epoch is discarded;
//   - at most one login or logout is in flight; a second one fails fast
//     with ErrBusy.
package authstate

import (
	"errors"

	"github.com/iliyamo/waitlist-admin/internal/model"
)

// Status is the coarse authentication state.
type Status string

const (
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	// StatusError means the server could not be asked, which is not the
	// same as having no session; the view offers a retry.
	StatusError Status = "error"
)

// State is an immutable snapshot.  Account is non-nil exactly when Status
// is StatusAuthenticated.  Err carries the failure behind StatusError, or
// the message of a rejected login next to StatusUnauthenticated.
type State struct {
	Status  Status
	Account *model.AccountSummary
	Err     error
}

func loading() State { return State{Status: StatusLoading} }

func authenticated(a model.AccountSummary) State {
	return State{Status: StatusAuthenticated, Account: &a}
}

func unauthenticated(err error) State {
	return State{Status: StatusUnauthenticated, Err: err}
}

func failed(err error) State { return State{Status: StatusError, Err: err} }

// View is a screen of the back office.
type View string

const (
	ViewLogin     View = "login"
	ViewDashboard View = "dashboard"
)

// Protected reports whether v needs a session.
func (v View) Protected() bool { return v != ViewLogin }

// Redirect is the redirect policy the view layer applies to the current
// state: unauthenticated users leave protected views for the login view,
// authenticated users leave the login view for the dashboard.  Loading and
// error never redirect.
func Redirect(s Status, v View) (View, bool) {
	switch s {
	case StatusUnauthenticated:
		if v.Protected() {
			return ViewLogin, true
		}
	case StatusAuthenticated:
		if v == ViewLogin {
			return ViewDashboard, true
		}
	}
	return "", false
}

var (
	// ErrBusy is returned when a login or logout is already in flight.
	ErrBusy = errors.New("authstate: another login or logout is in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("authstate: controller closed")
)
