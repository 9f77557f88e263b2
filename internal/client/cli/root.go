// Package cli команды клиента scorekeeper: регистрация устройства, запись
// счета, синхронизация и работа с конфликтами.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/iudanet/scorekeeper/internal/client/config"
	"github.com/iudanet/scorekeeper/internal/client/iocli"
)

// NewRootCommand создает корневую команду. Значения cfg служат умолчаниями
// флагов; итоговая конфигурация проверяется перед запуском подкоманды.
func NewRootCommand(cfg *config.Config, io iocli.IO, version string) *cobra.Command {
	app := &App{cfg: cfg, io: io}

	cmd := &cobra.Command{
		Use:     "scorekeeper",
		Short:   "Offline-first golf score recording",
		Long:    "Record golf scores offline and synchronize them with the course server.\nConflicting edits are resolved automatically when possible and logged.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cfg.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newEnrollCommand(app),
		newRecordCommand(app),
		newShowCommand(app),
		newStatusCommand(app),
		newSyncCommand(app),
		newRunCommand(app),
		newConflictsCommand(app),
		newResolveCommand(app),
		newLogCommand(app),
		newExportLogCommand(app),
	)

	return cmd
}
