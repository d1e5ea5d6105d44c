package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/chattrace/internal/chat"
	"github.com/Tyrowin/chattrace/internal/config"
	"github.com/Tyrowin/chattrace/internal/eventlog"
	"github.com/Tyrowin/chattrace/internal/logging"
	"github.com/Tyrowin/chattrace/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chattrace",
		Short: "Real-time chat relay with a persistent event log",
		Long: `chattrace accepts WebSocket connections, relays chat messages to every
member of the room and appends every connect, join, message and disconnect
to a line-oriented log file.

Settings are read from the config file, a .env file and CHAT_* environment
variables. Flags override all of them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.New()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringP("config", "c", config.DefaultConfigFile, "path to the JSON config file")
	cmd.Flags().IntP("port", "p", config.DefaultPort, "port to listen on")
	cmd.Flags().String("log-file", config.DefaultLogFile, "path of the chat event log")

	return cmd
}

// loadConfig reads the configuration sources and applies the flags the user
// set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return loadConfigFrom(afero.NewOsFs(), cmd)
}

func loadConfigFrom(fsys afero.Fs, cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	path, err := flags.GetString("config")
	if err != nil {
		return config.Config{}, err
	}

	loader := config.NewLoader(fsys)
	cfg := loader.Load(path)

	if flags.Changed("port") {
		if cfg.Port, err = flags.GetInt("port"); err != nil {
			return config.Config{}, err
		}
	}
	if flags.Changed("log-file") {
		if cfg.LogFile, err = flags.GetString("log-file"); err != nil {
			return config.Config{}, err
		}
	}

	return loader.Sanitize(cfg), nil
}

func run(cfg config.Config) error {
	r, err := startRelay(cfg)
	if err != nil {
		return err
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": r.shutdown,
		},
	)

	return r.wait(wait)
}

// relay is a running chat relay: the HTTP listener, the hub owning the
// connections and the event log they write to.
type relay struct {
	httpServer *http.Server
	listener   net.Listener
	hub        *server.Hub
	sink       *eventlog.FileSink
	serveErr   chan error
}

// startRelay opens the event log, binds the listen address and starts
// serving. Nothing is left running when it returns an error.
func startRelay(cfg config.Config) (*relay, error) {
	sink, err := eventlog.OpenFile(afero.NewOsFs(), cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}

	hub := server.NewHub(server.ClientOptionsFrom(cfg))
	manager := chat.NewManager(chat.NewRegistry(), hub, sink)
	hub.SetLifecycle(manager)
	go hub.Run()
	slog.Info("Hub started and ready to manage WebSocket connections")

	srv := server.New(cfg, hub)
	r := &relay{
		httpServer: server.CreateServer(cfg.Addr(), srv.Routes()),
		listener:   ln,
		hub:        hub,
		sink:       sink,
		serveErr:   make(chan error, 1),
	}
	go func() {
		r.serveErr <- server.StartServer(r.httpServer, ln)
	}()

	slog.Info("Chat relay started",
		"addr", r.addr(),
		"log_file", sink.Path(),
		"allowed_origins", cfg.AllowedOrigins,
		"max_message_size", cfg.MaxMessageSize,
		"rate_limit_burst", cfg.RateLimit.Burst,
		"rate_limit_refill_interval", cfg.RateLimit.RefillInterval,
	)
	return r, nil
}

func (r *relay) addr() string {
	return r.listener.Addr().String()
}

// wait blocks until the shutdown sequence reports its exit code on done, or
// until the listener fails on its own, in which case the relay is shut down
// here.
func (r *relay) wait(done <-chan int) error {
	select {
	case exitCode := <-done:
		return exitError(exitCode)
	case err := <-r.serveErr:
		if err == nil {
			// The shutdown sequence closed the listener and is still
			// closing connections and the event log.
			return exitError(<-done)
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = r.shutdown(ctx)
		return fmt.Errorf("http server: %w", err)
	}
}

func exitError(exitCode int) error {
	slog.Info("Chat relay exited", "exit_code", exitCode)
	if exitCode != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", exitCode)
	}
	return nil
}

// shutdown stops accepting requests, closes every connection and finally
// flushes the event log, so the disconnect records of closing sessions are
// still written.
func (r *relay) shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(server.ShutdownServer(ctx, r.httpServer))

	timeout := shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	keep(r.hub.Shutdown(timeout))

	if err := r.sink.Close(); err != nil {
		slog.Error("Error closing event log", "error", err)
		keep(err)
	}

	return firstErr
}
