package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/livegraph/internal/identity"
	"github.com/roach88/livegraph/internal/server"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string
	Domain   string

	WriteRate  float64
	WriteBurst int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <specs-dir>",
		Short: "Serve transactions, queries and live subscriptions over HTTP",
		Long: `Start the engine over a SQLite database and serve the HTTP API.

Routes:
  GET    /health                  liveness
  POST   /api/sessions            issue a session for an email
  POST   /api/sessions/anonymous  bootstrap an anonymous identity
  DELETE /api/sessions            revoke the bearer session
  GET    /api/me                  the identity behind the bearer token
  POST   /api/transact            submit a transaction
  POST   /api/query               run a query once
  GET    /api/subscribe           websocket live query
  GET    /metrics                 prometheus metrics

Stops gracefully on SIGINT or SIGTERM.

Examples:
  livegraph serve ./specs --db ./livegraph.db
  livegraph serve ./specs --db ./livegraph.db --addr :9090
  livegraph serve ./specs --write-rate 5 --write-burst 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "./livegraph.db", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "email domain for anonymous identities")
	cmd.Flags().Float64Var(&opts.WriteRate, "write-rate", 0, "writes per second allowed per caller (0 disables)")
	cmd.Flags().IntVar(&opts.WriteBurst, "write-burst", 10, "burst size for --write-rate")

	return cmd
}

func runServe(opts *ServeOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, st, err := openEngine(ctx, specsDir, opts.Database)
	if err != nil {
		return failLoad(formatter, err)
	}
	defer st.Close()
	defer e.Close()

	idOpts := []identity.Option{identity.WithSessionStore(st)}
	if opts.Domain != "" {
		idOpts = append(idOpts, identity.WithDomain(opts.Domain))
	}
	api := server.New(e, identity.NewService(e, idOpts...),
		server.WithWriteLimit(opts.WriteRate, opts.WriteBurst))
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving", "addr", opts.Addr, "db", opts.Database, "seq", e.Seq(), "schema", e.SchemaHash())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("shutting down", "subscriptions", e.Subscriptions())
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	return nil
}
