package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/kv"
	"github.com/hackgods/project-vector/internal/mockstore"
)

func pinKey(userID string) string {
	return mockstore.PINPrefix + userID
}

func validPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SetPIN stores a bcrypt hash of a short numeric code for the signed-in
// user. Reset of the local store removes every PIN.
func (s *Simulator) SetPIN(ctx context.Context, pin string) error {
	sess, err := s.Resolve(ctx)
	if err != nil {
		return err
	}
	if !validPIN(pin) {
		return fmt.Errorf("%w: pin must be 4 to 8 digits", domain.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := s.store.Set(ctx, pinKey(sess.UserID.String()), hash); err != nil {
		return fmt.Errorf("store pin: %w", err)
	}
	return nil
}

// VerifyPIN reports whether pin matches the code stored for the signed-in
// user. A user without a PIN never matches.
func (s *Simulator) VerifyPIN(ctx context.Context, pin string) (bool, error) {
	sess, err := s.Resolve(ctx)
	if err != nil {
		return false, err
	}

	hash, err := s.store.Get(ctx, pinKey(sess.UserID.String()))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load pin: %w", err)
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(pin)) == nil, nil
}
