package auth

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"chatrelay/pkg/interfaces"
)

// DefaultCost matches the cost used by existing password hashes.
const DefaultCost = 10

var _ interfaces.CredentialService = (*BcryptService)(nil)

// BcryptService hashes and verifies passwords with bcrypt.
type BcryptService struct {
	cost int
}

// NewBcryptService returns a service using cost, or DefaultCost when cost
// is outside bcrypt's accepted range.
func NewBcryptService(cost int) *BcryptService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &BcryptService{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (s *BcryptService) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. Malformed hashes never match.
func (s *BcryptService) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
