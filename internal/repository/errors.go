// Package repository defines the account store and the sentinel errors its
// implementations share.  Handlers and the credential adapter match these
// with errors.Is; anything else coming out of a repository is an
// infrastructure failure.
package repository

import "errors"

// ErrAccountNotFound is returned when no account matches the lookup.
var ErrAccountNotFound = errors.New("account not found")

// ErrIdentifierExists is returned by Create when the normalised identifier
// is already taken.  Handlers translate it into HTTP 409.
var ErrIdentifierExists = errors.New("identifier already exists")
