package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/jamscribe/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the HTTP API",
	Long: `Start the JamScribe HTTP API so recordings can be started, stopped and
transcribed from a browser or another device on the same network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if verboseLevel == 0 {
			gin.SetMode(gin.ReleaseMode)
		}

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		slog.Info("JamScribe web server starting", "port", port, "config", cfgFile)
		if err := server.New(svc, port).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port for the web server (overrides config)")
}
