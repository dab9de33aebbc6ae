package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/pipeframe/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveAddr string

var commandServe = &cobra.Command{
	Use:   "serve",
	Short: "Serve the worker over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := openWorker(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeWorker(w)

		gin.SetMode(gin.ReleaseMode)
		return server.New(cfg.Name, cfg.Server, w).Serve(ctx)
	},
}

func init() {
	commandServe.Flags().StringVar(&serveAddr, "addr", "", "override [server] addr")
	mainCommand.AddCommand(commandServe)
}
