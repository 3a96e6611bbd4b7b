package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/nbgrade/internal/server"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP grading API",
	Long: `Serve exposes the grading pipeline over HTTP:

  GET  /health         collaborator liveness
  POST /api/evaluate   multipart upload of "assignment" and "notebook"
  GET  /metrics        Prometheus metrics

Example:
  nbgrade serve
  nbgrade serve --addr :8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :5051)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("addr") {
		setOverride("server.addr", serveAddr)
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	srv, err := server.New(a.cfg.Server, a.pipeline, a.service, a.metrics, a.logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "🚀 Server running on %s\n", a.cfg.Server.Addr)
	fmt.Fprintf(os.Stderr, "📡 Collaborator: %s (%s)\n", a.cfg.Collaborator.BaseURL, a.service.Name())

	return srv.ListenAndServe(ctx)
}
