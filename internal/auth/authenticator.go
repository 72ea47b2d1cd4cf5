// Package auth issues and verifies the backend's account credentials and
// session tokens.
package auth

import (
	"context"

	"github.com/mmynk/eventlist/internal/models"
)

// Authenticator verifies account credentials.
type Authenticator interface {
	// Register creates an account for email with the given credential.
	Register(ctx context.Context, email, displayName, credential string) (*models.User, error)

	// Authenticate returns the account whose credential matches.
	Authenticate(ctx context.Context, email, credential string) (*models.User, error)
}
