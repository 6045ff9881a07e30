package interfaces

import "context"

// AuthService validates connection tokens and resolves them to an owner
// identity. Session issuance is an external collaborator concern.
type AuthService interface {
	// ValidateToken returns the owner ID a token belongs to, or an error
	// for unknown tokens.
	ValidateToken(ctx context.Context, token string) (ownerID string, err error)
}
