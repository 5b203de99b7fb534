package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/leafsii/redisdb/internal/record"
	"github.com/leafsii/redisdb/internal/syncmap"
	"github.com/spf13/cobra"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeIndented(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func NewGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args[0])
		},
	}
}

func runGet(cmd *cobra.Command, key string) (err error) {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	defer func() { err = errors.Join(err, a.shutdown(ctx)) }()

	rd, err := a.reader(ctx)
	if err != nil {
		return err
	}
	rec, err := rd.Open(ctx)
	if err != nil {
		return err
	}
	value, ok := rec[key]
	if !ok {
		return fmt.Errorf("%w: %q", syncmap.ErrKeyNotFound, key)
	}
	return writeIndented(cmd.OutOrStdout(), value)
}

func NewSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Store a JSON value under a key",
		Long: `Store a JSON value under a key through the configured mapping.

The value must be valid JSON: strings need quotes, e.g. redisdb set name '"bot"'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd, args[0], args[1])
		},
	}
}

func runSet(cmd *cobra.Command, key, raw string) (err error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return fmt.Errorf("value for %q is not valid JSON: %w", key, err)
	}

	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	defer func() { err = errors.Join(err, a.shutdown(ctx)) }()

	m, err := a.mapping(ctx)
	if err != nil {
		return err
	}
	if err := m.Set(ctx, key, value); err != nil {
		return err
	}
	a.logger.Infow("Value stored", "key", key)
	return nil
}

func NewDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the whole remote record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd)
		},
	}
}

func runDump(cmd *cobra.Command) (err error) {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	defer func() { err = errors.Join(err, a.shutdown(ctx)) }()

	rd, err := a.reader(ctx)
	if err != nil {
		return err
	}
	return rd.View(ctx, func(rec record.Record) error {
		return writeIndented(cmd.OutOrStdout(), rec)
	})
}
