package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/repochat/internal/ai"
	"github.com/suPer8Hu/repochat/internal/auth"
	"github.com/suPer8Hu/repochat/internal/catalog"
	"github.com/suPer8Hu/repochat/internal/chat"
	"github.com/suPer8Hu/repochat/internal/config"
	"github.com/suPer8Hu/repochat/internal/db"
	"github.com/suPer8Hu/repochat/internal/httpapi"
	"github.com/suPer8Hu/repochat/internal/httpapi/handlers"
	"github.com/suPer8Hu/repochat/internal/logging"
	"github.com/suPer8Hu/repochat/internal/store/rabbitmq"
	"github.com/suPer8Hu/repochat/internal/store/redisstore"
)

var (
	httpAddr    string
	catalogFile string
)

var rootCmd = &cobra.Command{
	Use:   "repochat-server",
	Short: "Ask questions about a catalog of GitHub repositories",
	Long: `repochat-server answers free-text questions about a small catalog of
GitHub repositories, streaming citation-backed answers over SSE and keeping
a per-visitor conversation history.

Running it without a subcommand is the same as "serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return err
		}
		if err := db.Migrate(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var importCatalogCmd = &cobra.Command{
	Use:   "import-catalog [file]",
	Short: "Replace the stored catalog with a YAML seed file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if len(args) == 1 {
			cfg.CatalogFile = args[0]
		}
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return err
		}
		if err := db.Migrate(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		n, err := importCatalog(cmd.Context(), gdb, cfg.CatalogFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d projects from %s\n", n, cfg.CatalogFile)
		return nil
	},
}

var hashAdminKeyCmd = &cobra.Command{
	Use:   "hash-admin-key <key>",
	Short: "Print the bcrypt hash to use as ADMIN_KEY_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := auth.HashAdminKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), h)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpAddr, "addr", "", "listen address (overrides HTTP_ADDR)")
	rootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "catalog YAML file (overrides CATALOG_FILE)")
	rootCmd.AddCommand(serveCmd, migrateCmd, importCatalogCmd, hashAdminKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() config.Config {
	cfg := config.Load()
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if catalogFile != "" {
		cfg.CatalogFile = catalogFile
	}
	return cfg
}

func importCatalog(ctx context.Context, gdb *gorm.DB, path string) (int, error) {
	projects, err := catalog.LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	if err := catalog.NewRepo(gdb).ReplaceAll(ctx, projects); err != nil {
		return 0, fmt.Errorf("store catalog: %w", err)
	}
	return len(projects), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	projects := catalog.NewRepo(gdb)
	snapshot := catalog.NewSnapshot(projects)
	n, err := snapshot.Reload(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if n == 0 {
		// first start: seed from the catalog file when there is one
		imported, err := importCatalog(ctx, gdb, cfg.CatalogFile)
		if err != nil {
			log.Warn("catalog is empty and the seed file could not be imported",
				zap.String("file", cfg.CatalogFile), zap.Error(err))
		} else {
			if n, err = snapshot.Reload(ctx); err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			log.Info("catalog seeded", zap.String("file", cfg.CatalogFile), zap.Int("projects", imported))
		}
	}
	log.Info("catalog loaded", zap.Int("projects", n))

	reg := ai.NewDefaultRegistry(cfg, snapshot.Find)
	provider, err := reg.Get(cfg.AIProvider)
	if err != nil {
		return err
	}

	svc := chat.NewService(chat.NewRepo(gdb), snapshot, provider, chat.ServiceConfig{
		HistoryCap:     cfg.ChatHistoryCap,
		PersistRetries: cfg.PersistRetries,
		PersistBackoff: cfg.PersistBackoff,
	}, log)

	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rds.Ping(pctx)
		cancel()
		if err != nil {
			log.Warn("redis unavailable, active repo cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rds.Close()
		} else {
			defer rds.Close()
			svc.WithCache(rds)
		}
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn("rabbitmq unavailable, unsaved turns will not be retried", zap.Error(err))
		} else {
			defer pub.Close()
			svc.WithQueue(pub)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	h := handlers.NewHandler(cfg, log, svc, snapshot, projects)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server started", zap.String("addr", cfg.HTTPAddr), zap.String("ai_provider", cfg.AIProvider))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("http server shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
