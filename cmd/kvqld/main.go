package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guileen/kvql/config"
	"github.com/guileen/kvql/logger"
	"github.com/guileen/kvql/protocol/api"
)

var (
	configPath string
	addr       string
)

var rootCmd = &cobra.Command{
	Use:           "kvqld",
	Short:         "SQL-like queries over a key/value store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <statement>",
	Short: "Run one statement against the configured store and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runQuery(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml or json)")
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	rootCmd.AddCommand(serveCmd, queryCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	startTime := time.Now()
	logger.Info("Starting kvqld", logger.String("backend", cfg.Store.Backend))

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := newEngine(cfg.Engine)
	if err != nil {
		return err
	}
	defer eng.Close()

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRESTHandler(eng, store).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening",
			logger.String("addr", cfg.Server.Addr),
			logger.Duration("init_duration", time.Since(startTime)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("kvqld stopped", logger.Duration("uptime", time.Since(startTime)))
	return err
}

func runQuery(ctx context.Context, cfg *config.Config, query string, out io.Writer) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := newEngine(cfg.Engine)
	if err != nil {
		return err
	}
	defer eng.Close()

	res, qerr := eng.Query(ctx, query, store)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(api.NewQueryResponse(res)); err != nil {
		return err
	}
	return qerr
}
