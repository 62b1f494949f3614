package auth

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Account is a login identity. Accounts are loaded once at startup and never mutated.
type Account struct {
	Username     string
	FullName     string
	Email        string
	PasswordHash string
}

// CredentialStore is a read-only username -> Account mapping with bcrypt verification.
// Safe for concurrent use since nothing is written after construction.
type CredentialStore struct {
	accounts  map[string]Account
	dummyHash []byte
}

// NewCredentialStore builds a store from accounts. Usernames must be unique and
// non-empty and every account needs a bcrypt hash.
func NewCredentialStore(accounts []Account) (*CredentialStore, error) {
	m := make(map[string]Account, len(accounts))
	cost := bcrypt.MinCost
	for i, a := range accounts {
		if a.Username == "" {
			return nil, fmt.Errorf("account %d: username is required", i)
		}
		if _, dup := m[a.Username]; dup {
			return nil, fmt.Errorf("account %q: duplicate username", a.Username)
		}
		c, err := bcrypt.Cost([]byte(a.PasswordHash))
		if err != nil {
			return nil, fmt.Errorf("account %q: invalid password hash: %w", a.Username, err)
		}
		if c > cost {
			cost = c
		}
		m[a.Username] = a
	}

	// Unknown usernames are compared against this hash so they cost the same as a
	// wrong password.
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("dummy hash seed: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(seed, cost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &CredentialStore{accounts: m, dummyHash: dummy}, nil
}

// Verify returns the account when password matches its stored hash. Unknown users
// and wrong passwords return the same *Failure message; only Reason differs.
func (s *CredentialStore) Verify(username, password string) (Account, error) {
	account, ok := s.accounts[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return Account{}, credentialsFailure(ReasonUnknownUser, nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Account{}, credentialsFailure(ReasonPasswordMismatch, nil)
		}
		return Account{}, credentialsFailure(ReasonPasswordMismatch, err)
	}
	return account, nil
}

// HashPassword returns a bcrypt hash suitable for the auth.accounts config section.
// cost <= 0 uses bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}
