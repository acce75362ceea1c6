package main

import (
	"context"
	"fmt"

	"wabagate/internal/config"
	"wabagate/internal/database"
	"wabagate/internal/models"
	"wabagate/internal/vault"

	"github.com/spf13/cobra"
)

// Store is the slice of the gateway database the CLI operates on.
type Store interface {
	ListOutbound(ctx context.Context, status models.QueueStatus, limit int) ([]*models.QueueItem, error)
	ReplayOutbound(ctx context.Context, id string, maxAttempts int) (*models.QueueItem, error)
	QueueStats(ctx context.Context) (map[models.QueueStatus]int, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	DeleteAccount(ctx context.Context, tenantID string) error
	Close() error
}

type globalOptions struct {
	configPath string
	dbPath     string
}

// storeOpener opens the database described by opts. The returned int is the
// configured queue max attempts.
type storeOpener func(opts globalOptions) (Store, int, error)

func openConfiguredStore(opts globalOptions) (Store, int, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	v, err := vault.New(cfg.Encryption.Secret)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to initialize token vault: %w", err)
	}
	db, err := database.New(cfg.Database.Path, v)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open database: %w", err)
	}
	return db, cfg.Queue.MaxAttempts, nil
}

type cli struct {
	opts        globalOptions
	open        storeOpener
	store       Store
	maxAttempts int
}

func newRootCmd(open storeOpener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "wabagatectl",
		Short:         "Operate a wabagate gateway database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.opts.configPath, "config", "config.json", "Path to the gateway configuration file")
	root.PersistentFlags().StringVar(&c.opts.dbPath, "db", "", "Override the database path from the configuration")

	root.AddCommand(c.queueCmd(), c.accountsCmd(), c.migrateCmd())
	return root
}

// withStore opens the store for the duration of fn.
func (c *cli) withStore(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, maxAttempts, err := c.open(c.opts)
		if err != nil {
			return err
		}
		defer store.Close()
		c.store, c.maxAttempts = store, maxAttempts
		return fn(cmd, args)
	}
}
