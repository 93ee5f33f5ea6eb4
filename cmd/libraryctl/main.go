// Command libraryctl is the operator CLI for the library service: schema
// migrations and payment review from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/btaap/library-service/internal/app"
	"github.com/btaap/library-service/internal/config"
	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/ledger"
	"github.com/btaap/library-service/internal/store"
	libraryrabbit "github.com/btaap/library-service/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var Version = "dev"

// cliEnv is what the payment and credit commands operate on.
type cliEnv struct {
	repo     store.Repository
	ledger   *ledger.Ledger
	payments *app.PaymentService
}

// envOpener builds a cliEnv and returns a cleanup func.
type envOpener func(ctx context.Context) (*cliEnv, func(), error)

func main() {
	if err := newRootCmd(openPostgresEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open envOpener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Operate the library service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(paymentsCmd(open))
	rootCmd.AddCommand(creditsCmd(open))
	return rootCmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(".")
	// The CLI never verifies tokens.
	if err != nil && !errors.Is(err, config.ErrMissingJWTSecret) {
		return cfg, err
	}
	if !cfg.UsesPostgres() {
		return cfg, errors.New("DATABASE_URL must be set")
	}
	return cfg, nil
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openPostgresEnv(ctx context.Context) (*cliEnv, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := store.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	logger := cliLogger()
	// Decisions made here publish the same events as decisions made over HTTP.
	publisher := libraryrabbit.NewPublisher(cfg.RabbitMQURL, logger)
	repo := store.NewPostgresRepository(pool)
	l := ledger.New(repo, logger, nil)
	payments := app.NewPaymentService(repo, l, publisher, cfg.EventsExchange, logger, nil)
	payments.SetPlanExtensionMonths(cfg.PlanExtensionMonths)

	cleanup := func() {
		publisher.Close()
		pool.Close()
	}
	return &cliEnv{repo: repo, ledger: l, payments: payments}, cleanup, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := store.OpenPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := store.Migrate(cmd.Context(), pool)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func paymentsCmd(open envOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Review payment requests",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List payment requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(env *cliEnv) error {
				payments, err := env.payments.ListAll(cmd.Context(), domain.PaymentStatus(status))
				if err != nil {
					return err
				}
				printPayments(cmd.OutOrStdout(), payments)
				return nil
			})
		},
	}
	list.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, approved, rejected)")

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List payment requests awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(env *cliEnv) error {
				payments, err := env.payments.ListPending(cmd.Context())
				if err != nil {
					return err
				}
				printPayments(cmd.OutOrStdout(), payments)
				return nil
			})
		},
	}

	cmd.AddCommand(list, pending, decideCmd(open, domain.PaymentStatusApproved), decideCmd(open, domain.PaymentStatusRejected))
	return cmd
}

func decideCmd(open envOpener, status domain.PaymentStatus) *cobra.Command {
	var adminID, reason string
	verb := "approve"
	if status == domain.PaymentStatusRejected {
		verb = "reject"
	}

	cmd := &cobra.Command{
		Use:   verb + " <payment-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a pending payment request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paymentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid payment id: %w", err)
			}
			admin, err := uuid.Parse(adminID)
			if err != nil {
				return fmt.Errorf("invalid --admin id: %w", err)
			}

			return withEnv(cmd, open, func(env *cliEnv) error {
				decision, err := env.payments.Decide(cmd.Context(), domain.Principal{ID: admin, Role: domain.RoleAdmin}, paymentID, status, reason)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "payment %s %s\n", decision.Payment.ID, decision.Payment.Status)
				if decision.NewBalance != nil {
					fmt.Fprintf(out, "user %s now has %d credits until %s\n",
						decision.Payment.OwnerID, *decision.NewBalance, decision.NewExpiry.Format(time.RFC3339))
				} else if status == domain.PaymentStatusApproved {
					fmt.Fprintf(out, "owner %s not found; no credits granted\n", decision.Payment.OwnerID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&adminID, "admin", "", "id of the admin recording the decision")
	cmd.MarkFlagRequired("admin")
	if status == domain.PaymentStatusRejected {
		cmd.Flags().StringVar(&reason, "reason", "", "rejection reason shown to the user")
	}
	return cmd
}

func creditsCmd(open envOpener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "credits <user-id>",
		Short: "Show a user's credit balance and recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			return withEnv(cmd, open, func(env *cliEnv) error {
				summary, err := env.ledger.Summary(cmd.Context(), userID, limit, time.Now())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				expiry := "none"
				if summary.Expiry != nil {
					expiry = summary.Expiry.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "credits: %d\nexpiry:  %s\nactive:  %t\n", summary.Balance, expiry, summary.Active)

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tTYPE\tAMOUNT\tDESCRIPTION")
				for _, e := range summary.Recent {
					fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\n", e.OccurredAt.Format(time.RFC3339), e.Kind, e.Amount, e.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", ledger.DefaultSummaryLimit, "history entries to show")
	return cmd
}

func withEnv(cmd *cobra.Command, open envOpener, fn func(env *cliEnv) error) error {
	env, cleanup, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(env)
}

func printPayments(out io.Writer, payments []domain.PaymentRequest) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tTXID\tPLAN\tCREDITS\tAMOUNT\tSTATUS\tCREATED")
	for _, p := range payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			p.ID, p.OwnerID, p.TransactionID, p.PlanName, p.PlanCredits, p.Amount.StringFixed(2), p.Status, p.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}
