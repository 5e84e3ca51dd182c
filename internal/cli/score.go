package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stampscore/stampscore/internal/app/ledger"
	"github.com/stampscore/stampscore/internal/app/passport"
	"github.com/stampscore/stampscore/internal/domain"
)

// scoreInput is the JSON accepted by `stampscore score`.
type scoreInput struct {
	Address     string         `json:"address"`
	CommunityID int64          `json:"community_id"`
	Stamps      []domain.Stamp `json:"stamps"`
}

func readScoreInput(cmd *cobra.Command, path string) (scoreInput, error) {
	var in scoreInput
	var r io.Reader = cmd.InOrStdin()
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return in, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return in, fmt.Errorf("decode input: %w", err)
	}
	if in.Address == "" || in.CommunityID <= 0 {
		return in, fmt.Errorf("input requires address and community_id")
	}
	return in, nil
}

// ─── score ──────────────────────────────────────────────────────────────────

func scoreCommand(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a passport from a JSON stamp submission",
		Long: `Reads {"address", "community_id", "stamps": [...]} from --file (or stdin)
and prints the resulting score report. An ERROR report is printed before the
command fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readScoreInput(cmd, file)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				report, err := a.passports.Score(ctx, passport.Submission{
					CommunityID: in.CommunityID,
					Address:     in.Address,
					Stamps:      in.Stamps,
				})
				if report.Address != "" {
					if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "submission JSON file (default stdin)")
	return cmd
}

// ─── rescore ────────────────────────────────────────────────────────────────

func rescoreCommand(opts *rootOptions) *cobra.Command {
	var (
		ids []int64
		all bool
	)
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Recompute stored passports after a scorer or ban change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 && !all {
				return fmt.Errorf("pass --community or --all")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if all {
					cs, err := a.db.ListCommunities(ctx)
					if err != nil {
						return err
					}
					ids = ids[:0]
					for _, c := range cs {
						ids = append(ids, c.ID)
					}
				}
				summary, err := a.rescorer.Rescore(ctx, ids)
				a.log.Info("rescore finished", "summary", summary.String())
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().Int64SliceVar(&ids, "community", nil, "community ids to rescore")
	cmd.Flags().BoolVar(&all, "all", false, "rescore every live community")
	return cmd
}

// ─── history ────────────────────────────────────────────────────────────────

func historyCommand(opts *rootOptions) *cobra.Command {
	var from, to, at string
	var verify bool
	cmd := &cobra.Command{
		Use:   "history COMMUNITY_ID ADDRESS",
		Short: "Show a passport's audit log, or its score at a point in time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			address := args[1]
			fromT, err := parseTimeFlag("from", from)
			if err != nil {
				return err
			}
			toT, err := parseTimeFlag("to", to)
			if err != nil {
				return err
			}
			atT, err := parseTimeFlag("at", at)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if !atT.IsZero() {
					report, err := a.passports.ScoreAt(ctx, id, address, atT)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), report)
				}
				events, err := a.passports.History(ctx, id, address, fromT, toT)
				if err != nil {
					return err
				}
				if verify {
					if err := ledger.Verify(events); err != nil {
						return err
					}
				}
				if events == nil {
					events = []domain.Event{}
				}
				return printJSON(cmd.OutOrStdout(), events)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "RFC 3339 lower bound")
	cmd.Flags().StringVar(&to, "to", "", "RFC 3339 upper bound")
	cmd.Flags().StringVar(&at, "at", "", "show the score snapshot in force at this RFC 3339 time")
	cmd.Flags().BoolVar(&verify, "verify", false, "check every event digest")
	return cmd
}
