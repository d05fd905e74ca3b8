package cli

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/config"
	"github.com/ppiankov/hostiotrace/internal/server"
)

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "gRPC listen address (overrides listen)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC trace service",
	Long: "Serves Reconstruct and Decode over gRPC until interrupted. The nesting set\n" +
		"is reloaded whenever the config file changes; requests in flight keep the\n" +
		"set they started with.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	listen := appConfig.Listen
	if serveListen != "" {
		listen = serveListen
	}

	srv, err := server.New(server.Config{
		Listen:       listen,
		ConfigPath:   path,
		AuditLogPath: appConfig.AuditLog,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx := cmd.Context()
	if path != "" {
		reloader, err := server.NewReloader(srv, path)
		if err != nil {
			log.Warn("Config hot-reload disabled", "err", err)
		} else {
			go reloader.Run(ctx)
			log.Info("Watching config for nesting set changes", "path", path)
		}
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down trace service")
		srv.GracefulStop()
	}()
	return srv.Serve()
}
