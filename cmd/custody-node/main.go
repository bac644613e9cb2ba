package main

import (
	"context"
	"custody-node/api"
	"custody-node/internal/config"
	"custody-node/internal/keyservice"
	"custody-node/internal/logger"
	"custody-node/internal/orchestrator"
	"custody-node/internal/storage"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// Set via -ldflags "-X main.version=x.y.z".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "custody-node",
	Short: "Stateless threshold custody node",
	Long: `custody-node serves the ECDSA and EdDSA key generation and signing
rounds over HTTP. Every call carries its own sealed round state.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("custody-node version %s\n", version)
		fmt.Printf("Git commit: %s\n", commit)
		fmt.Printf("Build date: %s\n", date)
		fmt.Printf("Go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the JSON config file (env CUSTODY_CONFIG)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, overrides server.listen_addr")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CUSTODY_CONFIG")
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	return cfg, nil
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.Logger); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	gin.SetMode(cfg.Server.Mode)

	var repo *storage.Repository
	if cfg.KeyService.KeyStore == "db" {
		if repo, err = storage.InitDB(cfg.Database); err != nil {
			return err
		}
	}
	keys, err := keyservice.New(ctx, cfg.KeyService, repo)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Keys:            keys,
		RecoveryEnabled: cfg.Protocol.RecoveryEnabled,
		PaillierBits:    cfg.Protocol.PaillierBits,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.SetupRouter(orch),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Log.WithField("addr", srv.Addr).WithField("version", version).Info("custody node listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
