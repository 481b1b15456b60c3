// Command lockd serves the lock and decay API and runs operator tasks
// against the same database and shared store.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-lockd-backend/internal/config"
	"github.com/tbourn/go-lockd-backend/internal/sysutil"
)

const programName = "lockd"

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var globalFlags = struct {
	envFile  string
	logLevel string
	debug    bool
}{}

// loadConfig reads the optional env file, then the environment. Variables
// already set in the environment win over the file.
func loadConfig() (config.Config, error) {
	if globalFlags.envFile != "" {
		if err := godotenv.Load(globalFlags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", globalFlags.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	switch {
	case globalFlags.debug:
		cfg.LogLevel = "debug"
	case globalFlags.logLevel != "":
		cfg.LogLevel = globalFlags.logLevel
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:           programName,
		Short:         "Lock and decay backend for on-chain content signals",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			c, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = c
			sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, programName)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&globalFlags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&globalFlags.logLevel, "log-level", "", "override LOG_LEVEL")
	root.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	cfgFn := func() config.Config { return cfg }
	root.AddCommand(
		serveCommand(cfgFn),
		decayCommand(cfgFn),
		migrateCommand(cfgFn),
		purgeCommand(cfgFn),
		versionCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Str("component", programName).Msg("command failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
