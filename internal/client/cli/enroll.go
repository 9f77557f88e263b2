package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/scorekeeper/internal/client/auth"
	"github.com/iudanet/scorekeeper/internal/models"
)

const secretEnv = "SCOREKEEPER_DEVICE_SECRET"

type enrollOptions struct {
	name       string
	role       string
	code       string
	secretFile string
}

func newEnrollCommand(app *App) *cobra.Command {
	opts := &enrollOptions{}

	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Register this device on the server",
		Long: `Register this device on the sync server and store its token.

The device secret is read, in order of priority, from:
  1. SCOREKEEPER_DEVICE_SECRET environment variable
  2. --secret-file
  3. interactive prompt (hidden input)

The official and system roles require the course enrollment code.

Examples:
  scorekeeper enroll --name cart-12
  scorekeeper enroll --name marshal-1 --role official --code "$COURSE_CODE"`,
		Args: cobra.NoArgs,
		RunE: app.runE(func(ctx context.Context, _ []string) error {
			return app.runEnroll(ctx, opts)
		}),
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "device name (3-64 characters: letters, digits, '_' and '-')")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&opts.role, "role", string(models.RoleRecorder), "device role: player, recorder, official, system")
	cmd.Flags().StringVar(&opts.code, "code", os.Getenv("SCOREKEEPER_ENROLL_CODE"), "enrollment code for official and system roles")
	cmd.Flags().StringVar(&opts.secretFile, "secret-file", "", "file containing the device secret")

	return cmd
}

func (a *App) runEnroll(ctx context.Context, opts *enrollOptions) error {
	secret, err := a.readSecret(opts.secretFile)
	if err != nil {
		return err
	}

	a.io.Println("Enrolling device...")

	identity, err := a.auth.Enroll(ctx, auth.EnrollParams{
		Name:       opts.name,
		Role:       models.Role(opts.role),
		Secret:     secret,
		EnrollCode: opts.code,
		ServerURL:  a.cfg.ServerURL,
	})
	if err != nil {
		return err
	}

	a.io.Println("✓ Device enrolled")
	a.io.Printf("Device ID: %s\n", identity.DeviceID)
	a.io.Printf("Name:      %s\n", identity.Name)
	a.io.Printf("Role:      %s\n", identity.Role)
	a.io.Printf("Server:    %s\n", identity.ServerURL)
	a.io.Printf("Expires:   %s\n", identity.ExpiresAt.Format(time.RFC3339))
	return nil
}

// readSecret читает секрет устройства: окружение, файл, затем запрос
func (a *App) readSecret(secretFile string) (string, error) {
	if secret := os.Getenv(secretEnv); secret != "" {
		return secret, nil
	}

	if secretFile != "" {
		content, err := os.ReadFile(secretFile)
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		secret := strings.TrimSpace(string(content))
		if secret == "" {
			return "", errors.New("secret file is empty")
		}
		return secret, nil
	}

	secret, err := a.io.ReadPassword("Device secret (min 8 chars): ")
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	confirm, err := a.io.ReadPassword("Confirm device secret: ")
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	if secret != confirm {
		return "", errors.New("secrets do not match")
	}
	return secret, nil
}
