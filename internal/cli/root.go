// Package cli implements the stampscore operator command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const programName = "stampscore"

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
	// now is overridden in tests.
	now func() time.Time
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{now: time.Now}
	root := &cobra.Command{
		Use:           programName,
		Short:         "Stamp-based humanity scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `stampscore turns verified identity stamps into per-community humanity
scores, enforcing bans, revocations and cross-address deduplication, and keeps
an append-only audit log of every score change.`,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default ~/.stampscore/config.toml)")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "D", false, "enable debug logging")

	root.AddCommand(
		migrateCommand(opts),
		serveCommand(opts),
		communityCommand(opts),
		banCommand(opts),
		revokeCommand(opts),
		scoreCommand(opts),
		rescoreCommand(opts),
		historyCommand(opts),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTimeFlag parses an RFC 3339 flag value; empty means zero.
func parseTimeFlag(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: want an RFC 3339 timestamp: %w", name, err)
	}
	return t, nil
}
