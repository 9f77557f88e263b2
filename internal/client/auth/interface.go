package auth

import (
	"context"

	"github.com/iudanet/scorekeeper/internal/models"
)

//go:generate moq -out service_mock.go . Service

// Service defines device enrollment and the stored device session.
// The token is stored in the local database and attached to every server call.
type Service interface {
	// Enroll registers this device on the server and stores the issued token.
	// Enrolling an already enrolled device with the same secret refreshes its token.
	Enroll(ctx context.Context, params EnrollParams) (*models.DeviceIdentity, error)

	// Identity returns the stored enrollment data
	// Returns ErrNotEnrolled if the device has not been enrolled
	Identity(ctx context.Context) (*models.DeviceIdentity, error)

	// Session returns the identity if it is usable against serverURL:
	// the token is not expired and was issued by the same server
	Session(ctx context.Context, serverURL string) (*models.DeviceIdentity, error)

	// Forget removes stored enrollment data. Local records are kept.
	Forget(ctx context.Context) error
}
