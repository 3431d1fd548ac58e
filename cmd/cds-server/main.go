package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ehr/cdsengine/internal/catalog"
	"github.com/ehr/cdsengine/internal/config"
	"github.com/ehr/cdsengine/internal/platform/db"
	"github.com/ehr/cdsengine/internal/platform/metrics"
	"github.com/ehr/cdsengine/internal/platform/middleware"
	"github.com/ehr/cdsengine/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cds-server",
		Short:        "Clinical decision support API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(catalogCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrator reads migrations from dir, or from the embedded set when dir is
// empty.
func migrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir != "" {
		return db.NewDirMigrator(pool, dir)
	}
	return db.NewMigrator(pool, migrations.FS)
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (embedded migrations when empty)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := migrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (embedded migrations when empty)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrator(pool, "")); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(createCmd)
	return cmd
}

// withTenant opens the pool, builds the services and runs fn on a
// connection scoped to the tenant given by --tenant.
func withTenant(cmd *cobra.Command, fn func(ctx context.Context, a *app, cfg *config.Config) error) error {
	ctx := cmd.Context()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}
	ctx, release, err := db.AcquireTenant(ctx, pool, tenant)
	if err != nil {
		return err
	}
	defer release()

	logger := newLogger(cfg)
	return fn(ctx, newApp(pool, cfg, logger, metrics.New()), cfg)
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the built-in interactions, reference ranges and order sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, func(ctx context.Context, a *app, _ *config.Config) error {
				interactions, err := a.cds.SeedInteractions(ctx)
				if err != nil {
					return fmt.Errorf("seed interactions: %w", err)
				}
				ranges, err := a.lab.SeedReferenceRanges(ctx)
				if err != nil {
					return fmt.Errorf("seed reference ranges: %w", err)
				}
				sets, err := a.orderSets.SeedOrderSets(ctx)
				if err != nil {
					return fmt.Errorf("seed order sets: %w", err)
				}
				fmt.Printf("Seeded %d interactions, %d reference ranges, %d order sets.\n", interactions, ranges, sets)
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "Tenant to seed (DEFAULT_TENANT when empty)")
	return cmd
}

func s3Store(ctx context.Context, cfg *config.Config) (*catalog.S3Store, error) {
	if !cfg.CatalogPublishingEnabled() {
		return nil, errors.New("CATALOG_S3_BUCKET is not configured")
	}
	return catalog.NewS3Store(ctx, catalog.S3Config{
		Bucket:    cfg.CatalogS3Bucket,
		Region:    cfg.CatalogS3Region,
		Endpoint:  cfg.CatalogS3Endpoint,
		PathStyle: cfg.CatalogS3PathStyle,
	})
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Export and import reference catalog snapshots",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the tenant's catalogs to a snapshot file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			publish, _ := cmd.Flags().GetBool("publish")
			prefix, _ := cmd.Flags().GetString("prefix")
			return withTenant(cmd, func(ctx context.Context, a *app, cfg *config.Config) error {
				snap, err := a.catalog.Export(ctx)
				if err != nil {
					return err
				}
				if err := catalog.WriteFile(out, snap); err != nil {
					return err
				}
				c := snap.Counts()
				fmt.Printf("Exported %d interactions, %d reference ranges, %d order sets to %s\n",
					c.Interactions, c.ReferenceRanges, c.OrderSets, out)
				if !publish {
					return nil
				}
				store, err := s3Store(ctx, cfg)
				if err != nil {
					return err
				}
				key := catalog.ObjectKey(prefix, snap)
				if err := store.Publish(ctx, key, out); err != nil {
					return err
				}
				fmt.Printf("Published s3://%s/%s\n", cfg.CatalogS3Bucket, key)
				return nil
			})
		},
	}
	exportCmd.Flags().String("out", "catalog.db", "Snapshot file to write")
	exportCmd.Flags().Bool("publish", false, "Upload the snapshot to CATALOG_S3_BUCKET")
	exportCmd.Flags().String("prefix", "", "Object key prefix for published snapshots")
	exportCmd.Flags().String("tenant", "", "Tenant to export (DEFAULT_TENANT when empty)")
	cmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert a snapshot into the tenant's catalogs",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			latest, _ := cmd.Flags().GetBool("latest")
			prefix, _ := cmd.Flags().GetString("prefix")
			return withTenant(cmd, func(ctx context.Context, a *app, cfg *config.Config) error {
				if latest {
					store, err := s3Store(ctx, cfg)
					if err != nil {
						return err
					}
					key, err := store.Latest(ctx, prefix)
					if err != nil {
						return err
					}
					in = filepath.Join(os.TempDir(), filepath.Base(key))
					if err := store.Fetch(ctx, key, in); err != nil {
						return err
					}
					defer os.Remove(in)
					fmt.Printf("Fetched s3://%s/%s\n", cfg.CatalogS3Bucket, key)
				}
				snap, err := catalog.ReadFile(in)
				if err != nil {
					return err
				}
				c, err := a.catalog.Import(ctx, snap)
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d interactions, %d reference ranges, %d order sets\n",
					c.Interactions, c.ReferenceRanges, c.OrderSets)
				return nil
			})
		},
	}
	importCmd.Flags().String("in", "catalog.db", "Snapshot file to read")
	importCmd.Flags().Bool("latest", false, "Fetch the newest snapshot from CATALOG_S3_BUCKET instead of --in")
	importCmd.Flags().String("prefix", "", "Object key prefix to search with --latest")
	importCmd.Flags().String("tenant", "", "Tenant to import into (DEFAULT_TENANT when empty)")
	cmd.AddCommand(importCmd)

	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	flush, err := middleware.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		logger.Warn().Err(err).Msg("error reporting disabled")
	}
	defer flush()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	rec := metrics.New()
	e := newServer(newApp(pool, cfg, logger, rec), pool, cfg, logger, rec)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
