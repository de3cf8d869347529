package auth

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"tapboard/pkg/interfaces"
)

// Gate decides and tracks which sessions may mutate board state. The grant
// lives in the store's authorized-session set, keyed by session id rather
// than connection, so it survives reconnects and reaches every open tab.
type Gate struct {
	store         interfaces.Store
	adminCodeHash []byte
}

// NewGate creates a gate comparing submitted codes against the configured
// bcrypt hash. A hash bcrypt cannot parse (an empty one included) surfaces
// from Authorize as an error, never as a grant; config validation rejects an
// empty hash before the server starts.
func NewGate(store interfaces.Store, adminCodeHash string) *Gate {
	return &Gate{
		store:         store,
		adminCodeHash: []byte(adminCodeHash),
	}
}

// IsAuthorized checks the store's grant set. It must be consulted fresh on
// every privileged operation; grants can be revoked asynchronously from any
// tab. Store failures fail closed.
func (g *Gate) IsAuthorized(ctx context.Context, sessionID string) bool {
	ok, err := g.store.IsAuthorized(ctx, sessionID)
	if err != nil {
		log.Printf("Authorization check failed for session %s, treating as unauthorized: %v", sessionID, err)
		return false
	}
	return ok
}

// Authorize compares the submitted code against the admin hash and records a
// grant on success. A mismatch returns (false, nil); the caller surfaces the
// rejection. Any other comparison failure is an internal error: fatal to the
// request, not to the process.
func (g *Gate) Authorize(ctx context.Context, sessionID, code string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(g.adminCodeHash, []byte(code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		log.Printf("Session %s entered the wrong code", sessionID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare admin code: %w", err)
	}

	if err := g.store.AddAuthorized(ctx, sessionID); err != nil {
		return false, err
	}
	log.Printf("Session %s entered the correct code", sessionID)
	return true, nil
}

// Revoke removes a session's grant. The caller broadcasts auth=false to the
// session's live connections afterwards.
func (g *Gate) Revoke(ctx context.Context, sessionID string) error {
	if err := g.store.RemoveAuthorized(ctx, sessionID); err != nil {
		return err
	}
	log.Printf("Session %s logged out", sessionID)
	return nil
}
