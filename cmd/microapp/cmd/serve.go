package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/microapp/config"
	"github.com/GoCodeAlone/microapp/internal/logging"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	inspectAddr string
	watch       bool
	verbose     bool
}

// NewServeCommand creates the serve command
func NewServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the configured applications",
		Long: `Run a router container with the applications of the configuration file.

The inspect endpoint, when enabled, reports application states and accepts
navigation and lifecycle requests. With --watch, edits to the configuration
file add, replace or remove applications without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.inspectAddr, "inspect-addr", "", "listen address of the inspect endpoint, overrides inspect.addr")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", true, "reload applications when the configuration file changes")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, global *globalOptions, opts *serveOptions) error {
	cfg, err := config.LoadFile(global.configPath, global.envPrefix)
	if err != nil {
		return err
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger, closer, err := logging.New(logging.Options{
		Level:   level,
		Prefix:  cfg.Log.Prefix,
		File:    cfg.Log.File,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	addr := cfg.Inspect.Addr
	if opts.inspectAddr != "" {
		addr = opts.inspectAddr
	}
	var srv *http.Server
	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = rt.close(context.Background())
			return fmt.Errorf("inspect endpoint: %w", err)
		}
		srv = &http.Server{Handler: rt.inspect, ReadHeaderTimeout: 5 * time.Second}
		logger.Info("Serving inspect endpoint", "addr", ln.Addr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Inspect endpoint failed", "error", err)
			}
		}()
	}

	if opts.watch {
		w := config.NewWatcher(global.configPath,
			config.WithEnvPrefix(global.envPrefix),
			config.WithWatcherLogger(logger),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Watch(ctx, rt.apply); err != nil {
				logger.Error("Configuration watcher stopped", "error", err)
			}
		}()
	}

	startErr := rt.start(ctx)
	if startErr == nil {
		logger.Info("Serving applications", "container", cfg.Name, "apps", len(cfg.Apps), "location", rt.router.Location())
		<-ctx.Done()
	}
	cancelRun()

	logger.Info("Shutting down", "container", cfg.Name)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Inspect endpoint shutdown failed", "error", err)
		}
	}
	closeErr := rt.close(shutdownCtx)
	wg.Wait()
	return errors.Join(startErr, closeErr)
}
