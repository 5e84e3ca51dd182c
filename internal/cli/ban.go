package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stampscore/stampscore/internal/domain"
)

func banCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ban",
		Short: "Manage account and stamp bans",
	}
	cmd.AddCommand(banAddCommand(opts), banListCommand(opts))
	return cmd
}

func banAddCommand(opts *rootOptions) *cobra.Command {
	var (
		b                 domain.Ban
		banType, endTime string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Ban an address, or one provider of an address",
		Long: `Bans take effect on the next computation of the address. ACCOUNT bans
exclude every stamp; SINGLE_STAMP bans exclude one provider. HASH bans are
recorded but not applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b.Type = domain.BanType(strings.ToUpper(banType))
			end, err := parseTimeFlag("end", endTime)
			if err != nil {
				return err
			}
			if !end.IsZero() {
				b.EndTime = &end
			}
			if err := b.Validate(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				b.CreatedAt = opts.now()
				stored, err := a.db.CreateBan(ctx, b)
				if err != nil {
					return err
				}
				a.log.Info("ban created", "id", stored.ID, "type", stored.Type, "address", stored.Address)
				return printJSON(cmd.OutOrStdout(), stored)
			})
		},
	}
	cmd.Flags().StringVar(&banType, "type", string(domain.BanAccount), "ban type: ACCOUNT, SINGLE_STAMP or HASH")
	cmd.Flags().StringVar(&b.Address, "address", "", "banned address")
	cmd.Flags().StringVar(&b.Provider, "provider", "", "banned provider (SINGLE_STAMP)")
	cmd.Flags().StringVar(&b.Hash, "hash", "", "banned hash (HASH)")
	cmd.Flags().StringVar(&endTime, "end", "", "RFC 3339 end time (default: permanent)")
	cmd.Flags().StringVar(&b.Reason, "reason", "", "free-form reason")
	return cmd
}

func banListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list ADDRESS",
		Short: "List every ban recorded for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				bans, err := a.db.ListBans(ctx, args[0])
				if err != nil {
					return err
				}
				if bans == nil {
					bans = []domain.Ban{}
				}
				return printJSON(cmd.OutOrStdout(), bans)
			})
		},
	}
}

func revokeCommand(opts *rootOptions) *cobra.Command {
	var r domain.Revocation
	cmd := &cobra.Command{
		Use:   "revoke PROOF_VALUE",
		Short: "Revoke a stamp by its proof value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r.ProofValue = args[0]
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				r.CreatedAt = opts.now()
				if err := a.db.CreateRevocation(ctx, r); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", r.ProofValue)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&r.Provider, "provider", "", "provider of the revoked stamp")
	cmd.Flags().StringVar(&r.Address, "address", "", "address the stamp was issued to")
	return cmd
}
