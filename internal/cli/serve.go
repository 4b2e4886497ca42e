package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/persona/internal/config"
	"github.com/lazypower/persona/internal/engine"
	"github.com/lazypower/persona/internal/ingest"
	"github.com/lazypower/persona/internal/server"
	"github.com/lazypower/persona/internal/store"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	eng := engine.New(db, cfg.Decay, cfg.Compress)
	eng.StartJobTimer()
	defer eng.Stop()

	classifier := ingest.NewClassifier(ingest.NewRegistry(), cfg.Weights)
	srv := server.New(db, classifier, cfg, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "persona serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// loadConfig resolves the config file: --config flag, then PERSONA_CONFIG,
// then defaults.
func loadConfig() (config.Config, error) {
	path := serveConfigPath
	if path == "" {
		path = os.Getenv("PERSONA_CONFIG")
	}
	return config.Load(path)
}

// openStore resolves the data root: config, then PERSONA_ROOT, then the
// default under the home directory.
func openStore(cfg config.Config) (*store.DB, error) {
	root := cfg.Database.Root
	if root == "" {
		root = os.Getenv("PERSONA_ROOT")
	}
	if root == "" {
		var err error
		root, err = store.DefaultRoot()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(root)
}
