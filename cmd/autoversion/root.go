package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aretw0/autoversion"
	"github.com/aretw0/autoversion/internal/platform"
	"github.com/aretw0/autoversion/pkg/adapters/postgres"
	"github.com/aretw0/autoversion/pkg/core"
)

// externalStore is a version store the CLI opens and must close.
type externalStore interface {
	core.VersionStore
	Close() error
}

var openVersionStore = func(ctx context.Context, dsn string) (externalStore, error) {
	return postgres.NewVersionStore(ctx, dsn)
}

var (
	verbose     bool
	vaultPath   string
	configPath  string
	modelsDir   string
	gitless     bool
	postgresDSN string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "autoversion",
	Short: "Automatic version histories for a markdown vault",
	Long: `autoversion applies changes to a vault of markdown nodes in transactions
and decides, per change, whether a node deserves a new version.`,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to load .env", "error", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&vaultPath, "vault", "", "Vault directory (default: nearest vault root above the working directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default: autoversion.yaml in the vault)")
	rootCmd.PersistentFlags().StringVar(&modelsDir, "models", "", "Directory of namespace model files")
	rootCmd.PersistentFlags().BoolVar(&gitless, "gitless", false, "Do not commit changes to git")
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "postgres", "", "Keep version histories in PostgreSQL (default: $AUTOVERSION_POSTGRES_DSN)")
}

// resolveVault returns the vault directory the command works on.
func resolveVault() (string, error) {
	if vaultPath != "" {
		return vaultPath, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if root, err := platform.FindRoot(cwd); err == nil {
		return root, nil
	}
	return cwd, nil
}

// openEngine wires the engine for the vault. The returned cleanup closes
// external stores.
func openEngine(ctx context.Context, autoInit bool) (*autoversion.Engine, func(), error) {
	root, err := resolveVault()
	if err != nil {
		return nil, nil, err
	}

	opts := []autoversion.Option{
		autoversion.WithLogger(slog.Default()),
		autoversion.WithAutoInit(autoInit),
	}
	if gitless {
		opts = append(opts, autoversion.WithVersioning(false))
	}

	cfg := configPath
	if cfg == "" {
		if candidate := filepath.Join(root, platform.ConfigFile); fileExists(candidate) {
			cfg = candidate
		}
	}
	opts = append(opts, autoversion.WithConfigFile(cfg))

	if modelsDir != "" {
		opts = append(opts, autoversion.WithModels(modelsDir, false))
	}

	cleanup := func() {}
	dsn := postgresDSN
	if dsn == "" {
		dsn = os.Getenv("AUTOVERSION_POSTGRES_DSN")
	}
	if dsn != "" {
		store, err := openVersionStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, autoversion.WithVersionStore(store))
		cleanup = func() {
			if err := store.Close(); err != nil {
				slog.Warn("failed to close version store", "error", err)
			}
		}
	}

	engine, err := autoversion.New(root, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
