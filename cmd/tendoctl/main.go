package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/tendo/internal/app"
	"github.com/example/tendo/internal/config"
	"github.com/example/tendo/internal/database"
	"github.com/example/tendo/internal/logger"
	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/workers"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tendoctl",
		Short:         "Operational commands for the Tendo Market API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(idempotencyCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(paymentsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withContainer connects to the database and wires services for one command.
func withContainer(run func(ctx context.Context, c *app.Container) error) error {
	cfg := config.Load()
	log := logger.Must(cfg.AppEnv)
	defer func() { _ = log.Sync() }()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	c, err := app.New(cfg, db, log)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return run(ctx, c)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(_ context.Context, c *app.Container) error {
				if err := database.Migrate(c.DB); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func idempotencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Manage idempotency records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired idempotency records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *app.Container) error {
				n, err := workers.NewIdempotencyPurgeWorker(c.Idempotency, time.Hour, c.Log).RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("purged %d records\n", n)
				return nil
			})
		},
	})

	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	var role string
	promote := &cobra.Command{
		Use:   "promote [phone]",
		Short: "Change the role of the user with the given phone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case models.RoleCustomer, models.RoleSeller, models.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			return withContainer(func(ctx context.Context, c *app.Container) error {
				return promoteUser(ctx, c.DB, c.Log, args[0], role)
			})
		},
	}
	promote.Flags().StringVar(&role, "role", models.RoleAdmin, "role to assign (customer, seller, admin)")
	cmd.AddCommand(promote)

	return cmd
}

func promoteUser(ctx context.Context, db *gorm.DB, log *zap.Logger, phone, role string) error {
	res := db.WithContext(ctx).Model(&models.User{}).Where("phone = ?", phone).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no user with phone %s", phone)
	}
	log.Info("user role changed", zap.String("phone", phone), zap.String("role", role))
	fmt.Printf("%s is now %s\n", phone, role)
	return nil
}

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Payment maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Fail payments that waited on the provider past the pending timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *app.Container) error {
				n := workers.NewPaymentExpiryWorker(c.PaymentSvc, time.Minute, c.Log).RunOnce(ctx)
				fmt.Printf("expired %d payments\n", n)
				return nil
			})
		},
	})

	return cmd
}
