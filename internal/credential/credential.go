// Package credential adapts the account store for authentication.  It
// looks accounts up, compares secrets against stored bcrypt hashes and
// records successful logins, without ever handing the stored hash to its
// callers.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/waitlist-admin/internal/model"
	"github.com/iliyamo/waitlist-admin/internal/repository"
	"github.com/iliyamo/waitlist-admin/internal/utils"
)

// ErrInvalidCredentials is the only failure callers see for a bad login,
// whatever the underlying cause.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Failure names the internal cause of a rejected login.  It is meant for
// logs and audit events, never for responses.
type Failure string

const (
	FailureNone           Failure = ""
	FailureUnknownAccount Failure = "unknown_account"
	FailureInactive       Failure = "inactive"
	FailureBadSecret      Failure = "bad_secret"
)

// Adapter wraps an AccountStore with the credential operations the login
// flow needs.
type Adapter struct {
	store     repository.AccountStore
	cost      int
	dummyHash string
	now       func() time.Time
}

// NewAdapter precomputes a throwaway hash at the configured cost so that
// lookups for unknown or inactive accounts spend the same bcrypt time as
// real comparisons.
func NewAdapter(store repository.AccountStore, cost int) (*Adapter, error) {
	dummy, err := utils.HashPassword("dummy-secret-for-timing", cost)
	if err != nil {
		return nil, fmt.Errorf("credential: dummy hash: %w", err)
	}
	return &Adapter{store: store, cost: cost, dummyHash: dummy, now: func() time.Time { return time.Now().UTC() }}, nil
}

// FindActiveAccountByIdentifier returns the active account for identifier.
// Missing and inactive accounts both yield ErrInvalidCredentials; any other
// error is an infrastructure failure and is returned wrapped.
func (a *Adapter) FindActiveAccountByIdentifier(ctx context.Context, identifier string) (model.Account, error) {
	acct, _, err := a.findActive(ctx, identifier)
	return acct, err
}

func (a *Adapter) findActive(ctx context.Context, identifier string) (model.Account, Failure, error) {
	acct, err := a.store.GetByIdentifier(ctx, identifier)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return model.Account{}, FailureUnknownAccount, ErrInvalidCredentials
	}
	if err != nil {
		return model.Account{}, FailureNone, fmt.Errorf("lookup account: %w", err)
	}
	if !acct.Active {
		return model.Account{}, FailureInactive, ErrInvalidCredentials
	}
	return acct, FailureNone, nil
}

// VerifySecret compares candidate with the account's stored hash.  An
// account without a hash is compared against the dummy hash and always
// fails.
func (a *Adapter) VerifySecret(acct model.Account, candidate string) bool {
	if acct.SecretHash == "" {
		utils.VerifyPassword(a.dummyHash, candidate)
		return false
	}
	return utils.VerifyPassword(acct.SecretHash, candidate)
}

// Authenticate runs lookup and comparison as one step.  On rejection it
// returns ErrInvalidCredentials together with the internal Failure cause.
// Unknown and inactive accounts still pay for a bcrypt comparison.
func (a *Adapter) Authenticate(ctx context.Context, identifier, secret string) (model.Account, Failure, error) {
	acct, failure, err := a.findActive(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			utils.VerifyPassword(a.dummyHash, secret)
		}
		return model.Account{}, failure, err
	}
	if !a.VerifySecret(acct, secret) {
		return model.Account{}, FailureBadSecret, ErrInvalidCredentials
	}
	return acct, FailureNone, nil
}

// RecordSuccessfulLogin stamps the last-authenticated time on the account
// and returns the updated copy.  It is best-effort: on error the caller
// logs and carries on with the original account.
func (a *Adapter) RecordSuccessfulLogin(ctx context.Context, acct model.Account) (model.Account, error) {
	at := a.now()
	if err := a.store.TouchLastLogin(ctx, acct.ID, at); err != nil {
		return acct, fmt.Errorf("record login for account %d: %w", acct.ID, err)
	}
	acct.LastLoginAt = &at
	return acct, nil
}

// ActiveAccountByID reloads an account for an existing session.  Missing
// and inactive accounts yield repository.ErrAccountNotFound.
func (a *Adapter) ActiveAccountByID(ctx context.Context, id uint64) (model.Account, error) {
	acct, err := a.store.GetByID(ctx, id)
	if err != nil {
		return model.Account{}, err
	}
	if !acct.Active {
		return model.Account{}, repository.ErrAccountNotFound
	}
	return acct, nil
}

// CreateAccount hashes secret and stores a new active account.
func (a *Adapter) CreateAccount(ctx context.Context, identifier, name, role, secret string) (model.Account, error) {
	hash, err := utils.HashPassword(secret, a.cost)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash secret: %w", err)
	}
	acct := model.Account{
		Identifier: repository.NormalizeIdentifier(identifier),
		Name:       name,
		Role:       role,
		SecretHash: hash,
		Active:     true,
	}
	id, err := a.store.Create(ctx, acct)
	if err != nil {
		return model.Account{}, err
	}
	return a.store.GetByID(ctx, id)
}

// Deactivate clears the active flag.  Existing sessions stop resolving on
// their next who-am-I check.
func (a *Adapter) Deactivate(ctx context.Context, id uint64) error {
	return a.store.SetActive(ctx, id, false)
}

// AccountCount reports how many accounts exist; zero means the service is
// waiting for its first super admin.
func (a *Adapter) AccountCount(ctx context.Context) (int, error) {
	return a.store.Count(ctx)
}

// EnsureBootstrapAdmin creates a super admin from the given credentials when
// the store holds no accounts yet.  It reports whether an account was made.
func (a *Adapter) EnsureBootstrapAdmin(ctx context.Context, identifier, name, secret string) (bool, error) {
	if identifier == "" || secret == "" {
		return false, nil
	}
	n, err := a.store.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := a.CreateAccount(ctx, identifier, name, model.RoleSuperAdmin, secret); err != nil {
		if errors.Is(err, repository.ErrIdentifierExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
