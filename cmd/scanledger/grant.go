package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/smallbiznis/scanledger/internal/account"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/config"
	"github.com/smallbiznis/scanledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	"github.com/smallbiznis/scanledger/internal/observability"
	"github.com/smallbiznis/scanledger/internal/providers/email"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func grantCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "grant <username> <tokens>",
		Short: "Credit tokens to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || tokens <= 0 {
				return fmt.Errorf("tokens must be a positive integer, got %q", args[1])
			}

			var balance ledgerdomain.Balance
			grant := func(ctx context.Context, accounts accountdomain.Service, ledgerSvc ledgerdomain.Service) error {
				acct, err := accounts.GetByUsername(ctx, args[0])
				if err != nil {
					return fmt.Errorf("find %s: %w", args[0], err)
				}
				entry := ledgerdomain.Entry{
					Source:   ledgerdomain.SourceAdminGrant,
					Metadata: map[string]any{"granted_by": "cli", "reason": reason},
				}
				if err := ledgerSvc.Credit(ctx, acct.ID, tokens, entry); err != nil {
					return err
				}
				balance, err = ledgerSvc.Balance(ctx, acct.ID)
				return err
			}

			app := fx.New(
				fx.NopLogger,
				config.Module,
				observability.Module,
				fx.Provide(RegisterSnowflake),
				db.Module,
				clock.Module,
				email.Module,
				account.Module,
				ledger.Module,
				fx.Invoke(func(accounts accountdomain.Service, ledgerSvc ledgerdomain.Service) error {
					return grant(cmd.Context(), accounts, ledgerSvc)
				}),
			)
			if err := app.Err(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d tokens left\n",
				args[0], balance.Left(), balance.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "note stored on the ledger entry")
	return cmd
}
