package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	logpkg "github.com/Tyrowin/veilchat/internal/log"
	"github.com/Tyrowin/veilchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

// Config holds the command line configuration
type Config struct {
	ConfigFile string
	Port       string
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Anonymous ephemeral end-to-end encrypted group chat server",
		Long: `The veilchat server relays end-to-end encrypted group chat between
browsers. It never sees plaintext or key material: it tracks who is in a room,
gates entry by password, capacity and blocklist, relays key-exchange frames
between members and expires rooms on schedule.

Configuration is read from an optional TOML file, then from the environment
(a .env file in the working directory is loaded first), then from flags.`,
		Example: `  # Start server with defaults
  server

  # Start server with a configuration file
  server --config /etc/veilchat/server.toml

  # Override the listen address
  server -f server.toml --port :9090

  # Keep all state in memory
  DATA_PATH= server`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "",
		"path to the server configuration file (TOML format)")
	cmd.Flags().StringVar(&cfg.Port, "port", "",
		"listen address, overrides SERVER_PORT and the configuration file")

	return cmd
}

func main() {
	rootCmd := newRootCommand()

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cfg Config) (*server.Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	serverCfg := server.NewConfig()
	if cfg.ConfigFile != "" {
		var err error
		if serverCfg, err = server.LoadFile(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
		}
	}
	serverCfg.ApplyEnv()
	if cfg.Port != "" {
		serverCfg.Port = cfg.Port
	}
	return serverCfg, nil
}

func runServer(cfg Config) error {
	serverCfg, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	backend, err := logpkg.New(serverCfg.Logging.File, serverCfg.Logging.Level, serverCfg.Logging.Disable)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %v", err)
	}
	defer backend.Close()
	log := backend.GetLogger("main")

	svr, err := server.New(serverCfg, backend)
	if err != nil {
		return fmt.Errorf("failed to spawn server instance: %v", err)
	}
	svr.Start()

	// Setup the signal handling.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.ListenAndServe()
	}()

	select {
	case sig := <-haltCh:
		log.Noticef("Received %v, shutting down", sig)
	case err = <-errCh:
		if err != nil {
			log.Errorf("Server stopped: %v", err)
		}
	}

	if serr := svr.Shutdown(shutdownTimeout); serr != nil {
		log.Warningf("Shutdown incomplete: %v", serr)
	}
	return err
}
