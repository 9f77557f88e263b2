package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iudanet/scorekeeper/internal/client/api"
	"github.com/iudanet/scorekeeper/internal/client/auth"
	"github.com/iudanet/scorekeeper/internal/client/config"
	"github.com/iudanet/scorekeeper/internal/client/connectivity"
	"github.com/iudanet/scorekeeper/internal/client/iocli"
	"github.com/iudanet/scorekeeper/internal/client/storage/boltdb"
	clientsync "github.com/iudanet/scorekeeper/internal/client/sync"
	"github.com/iudanet/scorekeeper/internal/client/tracker"
	"github.com/iudanet/scorekeeper/internal/conflict"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/validation"
)

// App зависимости команд. Хранилище и движок создаются лениво:
// команды, работающие только с локальными данными, не трогают сеть.
type App struct {
	cfg      *config.Config
	io       iocli.IO
	logger   *slog.Logger
	store    *boltdb.Storage
	client   *api.Client
	auth     *auth.DeviceService
	monitor  *connectivity.Monitor
	engine   *clientsync.Engine
	deviceID string
}

// open открывает локальную базу и создает API клиент
func (a *App) open(ctx context.Context, logOut io.Writer) error {
	if a.store != nil {
		return nil
	}

	level, err := config.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	store, err := boltdb.New(ctx, a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	a.deviceID, err = store.DeviceID(ctx)
	if err != nil {
		_ = store.Close()
		return err
	}
	a.store = store

	a.client = api.NewClient(a.cfg.ServerURL, api.WithCompression(a.cfg.Compression))
	a.auth = auth.NewService(a.client, store, a.logger)
	return nil
}

// identity возвращает данные регистрации; без регистрации запись невозможна,
// так как роль автора правок неизвестна
func (a *App) identity(ctx context.Context) (*models.DeviceIdentity, error) {
	identity, err := a.auth.Identity(ctx)
	if errors.Is(err, auth.ErrNotEnrolled) {
		return nil, fmt.Errorf("%w: run 'scorekeeper enroll' first", err)
	}
	return identity, err
}

// connect проверяет сессию и передает токен API клиенту
func (a *App) connect(ctx context.Context) (*models.DeviceIdentity, error) {
	identity, err := a.auth.Session(ctx, a.cfg.ServerURL)
	switch {
	case errors.Is(err, auth.ErrNotEnrolled), errors.Is(err, auth.ErrTokenExpired):
		return nil, fmt.Errorf("%w: run 'scorekeeper enroll' to get a new token", err)
	case err != nil:
		return nil, err
	}
	a.client.SetToken(identity.Token)
	return identity, nil
}

// syncEngine создает движок синхронизации с правилами валидации из конфигурации
func (a *App) syncEngine() (*clientsync.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	rules, err := a.cfg.Rules()
	if err != nil {
		return nil, err
	}

	a.monitor = connectivity.NewMonitor(a.client, a.cfg.MonitorConfig(), a.logger)
	resolver := conflict.NewResolver(validation.NewRecordValidator(rules), a.logger)
	a.engine = clientsync.NewEngine(a.store, a.client, a.monitor, resolver, a.deviceID, a.cfg.SyncConfig(), a.logger)
	return a.engine, nil
}

// tracker создает трекер изменений от имени зарегистрированной роли
func (a *App) tracker(ctx context.Context) (tracker.Tracker, error) {
	identity, err := a.identity(ctx)
	if err != nil {
		return nil, err
	}

	var opts []tracker.Option
	if a.engine != nil {
		opts = append(opts, tracker.WithNotifier(a.engine))
	}
	return tracker.New(a.store, a.deviceID, identity.Role, a.logger, opts...), nil
}

// runE оборачивает команду: открывает базу до и закрывает после выполнения
func (a *App) runE(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := a.open(ctx, cmd.ErrOrStderr()); err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				a.logger.Error("Failed to close database", "error", err)
			}
		}()
		return fn(ctx, args)
	}
}

// Close закрывает локальную базу
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store, a.engine, a.monitor = nil, nil, nil
	return err
}
