package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stampscore/stampscore/internal/app/scoring"
	"github.com/stampscore/stampscore/internal/domain"
)

// scorerFlags are shared by `community create` and `community set-scorer`.
type scorerFlags struct {
	scorerType string
	weights    map[string]string
	threshold  string
}

func (f *scorerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scorerType, "scorer", string(domain.ScorerWeightedBinary), "scorer type: WEIGHTED or WEIGHTED_BINARY")
	cmd.Flags().StringToStringVar(&f.weights, "weights", nil, "provider weights, e.g. Ens=2.0,Github=1.0")
	cmd.Flags().StringVar(&f.threshold, "threshold", "", "pass threshold (WEIGHTED_BINARY only)")
}

// config validates the flags by building the scorer before anything is stored.
func (f *scorerFlags) config() (domain.ScorerConfig, error) {
	cfg := domain.ScorerConfig{
		Type:      domain.ScorerType(strings.ToUpper(f.scorerType)),
		Weights:   f.weights,
		Threshold: f.threshold,
	}
	if _, err := scoring.FromConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func communityCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "community",
		Short: "Manage communities and their scorers",
	}
	cmd.AddCommand(
		communityCreateCommand(opts),
		communityShowCommand(opts),
		communityListCommand(opts),
		communityDeleteCommand(opts),
		communitySetScorerCommand(opts),
	)
	return cmd
}

// ─── community create ───────────────────────────────────────────────────────

func communityCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		name, account, policy, scope string
		sf                           scorerFlags
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a community with a new scorer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scorerCfg, err := sf.config()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				scorerCfg.CreatedAt = opts.now()
				stored, err := a.db.CreateScorer(ctx, scorerCfg)
				if err != nil {
					return err
				}
				c, err := a.db.CreateCommunity(ctx, domain.Community{
					Name:        name,
					AccountID:   account,
					DedupPolicy: domain.DedupPolicy(strings.ToUpper(policy)),
					DedupScope:  scope,
					ScorerID:    stored.ID,
					CreatedAt:   opts.now(),
				})
				if err != nil {
					return err
				}
				a.log.Info("community created", "id", c.ID, "scorer", stored.ID, "policy", c.DedupPolicy)
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "community name")
	cmd.Flags().StringVar(&account, "account", "", "owning account id")
	cmd.Flags().StringVar(&policy, "policy", string(domain.DedupLIFO), "dedup policy: LIFO or FIFO")
	cmd.Flags().StringVar(&scope, "scope", "", "dedup scope shared with other communities (default: community-local)")
	sf.register(cmd)
	cmd.MarkFlagRequired("name")
	return cmd
}

// ─── community show / list ──────────────────────────────────────────────────

func communityShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show COMMUNITY_ID",
		Short: "Show a community and its scorer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				c, err := a.db.GetCommunity(ctx, id)
				if err != nil {
					return err
				}
				sc, err := a.db.GetScorer(ctx, c.ScorerID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"community": c,
					"scorer":    sc,
				})
			})
		},
	}
}

func communityListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live communities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				cs, err := a.db.ListCommunities(ctx)
				if err != nil {
					return err
				}
				if cs == nil {
					cs = []domain.Community{}
				}
				return printJSON(cmd.OutOrStdout(), cs)
			})
		},
	}
}

// ─── community delete / set-scorer ──────────────────────────────────────────

func communityDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete COMMUNITY_ID",
		Short: "Soft-delete a community",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.db.SoftDeleteCommunity(ctx, id, opts.now()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "community %d deleted\n", id)
				return nil
			})
		},
	}
}

func communitySetScorerCommand(opts *rootOptions) *cobra.Command {
	var sf scorerFlags
	cmd := &cobra.Command{
		Use:   "set-scorer COMMUNITY_ID",
		Short: "Attach a new scorer to a community",
		Long: `Creates a new scorer row and points the community at it. Stored scores
are not touched; run 'stampscore rescore' to apply the new weights.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			scorerCfg, err := sf.config()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				scorerCfg.CreatedAt = opts.now()
				stored, err := a.db.CreateScorer(ctx, scorerCfg)
				if err != nil {
					return err
				}
				if err := a.db.SetCommunityScorer(ctx, id, stored.ID); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stored)
			})
		},
	}
	sf.register(cmd)
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
