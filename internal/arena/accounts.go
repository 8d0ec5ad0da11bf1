package arena

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/arena/internal/config"
)

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Accounts authenticates logins against configured accounts and, when
// allowed, accepts guests under any unlisted name.
type Accounts struct {
	hashes      map[string]string
	allowGuests bool
}

// NewAccounts builds Accounts from configuration.
//
// Precondition: each account has a non-empty username and bcrypt hash.
func NewAccounts(accounts []config.AccountConfig, allowGuests bool) *Accounts {
	hashes := make(map[string]string, len(accounts))
	for _, a := range accounts {
		hashes[a.Username] = a.PasswordHash
	}
	return &Accounts{hashes: hashes, allowGuests: allowGuests}
}

// Authenticate checks username and password.
//
// Postcondition: returns nil on success, or an error wrapping ErrInvalidCredentials.
func (a *Accounts) Authenticate(username, password string) error {
	if username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidCredentials)
	}
	hash, ok := a.hashes[username]
	if !ok {
		if a.allowGuests {
			return nil
		}
		return fmt.Errorf("%w: unknown account %q", ErrInvalidCredentials, username)
	}
	if !CheckPassword(password, hash) {
		return fmt.Errorf("%w: wrong password for %q", ErrInvalidCredentials, username)
	}
	return nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
