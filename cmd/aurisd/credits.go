package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/config"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/metrics"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const operatorGrantDescription = "Ajout manuel (CLI)"

func newCreditsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust credit balances",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "balance <identity>",
			Short: "Print the balance and recent history of an identity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLedger(cmd.Context(), cfg, func(ctx context.Context, service *ledger.Service) error {
					identity, err := ledger.NewIdentity(args[0])
					if err != nil {
						return err
					}
					entry, err := service.Balance(ctx, identity)
					if err != nil {
						return err
					}
					printEntry(cmd.OutOrStdout(), entry)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "grant <identity> <amount>",
			Short: "Add credits to an identity",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLedger(cmd.Context(), cfg, func(ctx context.Context, service *ledger.Service) error {
					identity, err := ledger.NewIdentity(args[0])
					if err != nil {
						return err
					}
					raw, err := strconv.ParseInt(args[1], 10, 64)
					if err != nil {
						return fmt.Errorf("parse amount: %w", err)
					}
					amount, err := ledger.NewPositiveCredits(raw)
					if err != nil {
						return err
					}
					balance, err := service.AdminAdd(ctx, identity, amount, operatorGrantDescription)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", identity.String(), balance.Int64())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset <identity> <amount>",
			Short: "Replace the balance of an identity and clear its history",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLedger(cmd.Context(), cfg, func(ctx context.Context, service *ledger.Service) error {
					identity, err := ledger.NewIdentity(args[0])
					if err != nil {
						return err
					}
					raw, err := strconv.ParseInt(args[1], 10, 64)
					if err != nil {
						return fmt.Errorf("parse amount: %w", err)
					}
					amount, err := ledger.NewCredits(raw)
					if err != nil {
						return err
					}
					entry, err := service.Reset(ctx, identity, amount)
					if err != nil {
						return err
					}
					printEntry(cmd.OutOrStdout(), entry)
					return nil
				})
			},
		},
	)
	return cmd
}

func withLedger(ctx context.Context, cfg *config.Config, fn func(ctx context.Context, service *ledger.Service) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	core, err := openLedger(ctx, cfg, logger, metrics.NewServiceMetrics(nil))
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(ctx, core.service)
}

func printEntry(out io.Writer, entry ledger.Entry) {
	fmt.Fprintf(out, "%s: %d credits\n", entry.Identity.String(), entry.Balance.Int64())
	for _, transaction := range entry.History {
		fmt.Fprintf(out, "  %d\t%s\t%+d\t%s\n",
			transaction.CreatedUnixUTC,
			transaction.Kind,
			transaction.Amount.Int64(),
			transaction.Description,
		)
	}
}
