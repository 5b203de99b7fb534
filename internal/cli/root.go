// Package cli is the redisdb command tree and the composition root that
// wires configuration, the remote store, the mappings and the HTTP server.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command. Flags override the matching
// RDB_* environment variables.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redisdb",
		Short: "Redis-synchronized records with a local crash backup",
		Long: `redisdb keeps a JSON record in a Redis hash field, mirrors it in memory,
and falls back to a local backup file whenever Redis cannot be written.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("env", "", "environment (dev|prod)")
	flags.String("log-level", "", "log level override (debug|info|warn|error)")
	flags.String("backend", "", "remote backend (redis|postgres|memory)")
	flags.String("namespace", "", "remote hash name")
	flags.String("key", "", "hash field holding the record (default: namespace)")
	flags.String("mode", "", "synchronization mode (live|checkpoint)")
	flags.Bool("dont-save", false, "never write to the remote store or the backup")
	flags.String("backup", "", "local backup file path")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewGetCommand())
	cmd.AddCommand(NewSetCommand())
	cmd.AddCommand(NewDumpCommand())
	cmd.AddCommand(NewBackupCommand())

	return cmd
}
