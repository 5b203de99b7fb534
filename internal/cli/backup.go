package cli

import (
	"fmt"

	"github.com/leafsii/redisdb/internal/backup"
	"github.com/leafsii/redisdb/internal/config"
	"github.com/spf13/cobra"
)

func NewBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect or reset the local backup file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the backup record",
		Args:  cobra.NoArgs,
		RunE:  runBackupShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Reset the backup to an empty record",
		Args:  cobra.NoArgs,
		RunE:  runBackupClear,
	})
	return cmd
}

// backupFile resolves the path from --backup, then from config. The
// remote settings are not needed here, so a config error only means the
// default path is used.
func backupFile(cmd *cobra.Command) *backup.File {
	path, _ := cmd.Flags().GetString("backup")
	if path == "" {
		if cfg, err := config.Load(cmd.Flags()); err == nil {
			path = cfg.Sync.BackupPath
		}
	}
	return backup.Open(path, nil)
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	f := backupFile(cmd)
	rec, err := f.Load()
	if err != nil {
		return err
	}
	if rec.Crashed() {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: last live session crashed; this record will replace the remote copy\n", f.Path())
	}
	return writeIndented(cmd.OutOrStdout(), rec)
}

func runBackupClear(cmd *cobra.Command, args []string) error {
	f := backupFile(cmd)
	if err := f.Clear(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", f.Path())
	return nil
}
