package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/orgatlas"
)

// app carries state shared by every command of one invocation.
type app struct {
	configFile string
	v          *viper.Viper
	logCloser  io.Closer

	// newEngine opens the engine; tests replace it.
	newEngine func(orgatlas.Config) (orgatlas.Engine, error)
}

func newRootCmd() *cobra.Command {
	a := &app{
		newEngine: func(cfg orgatlas.Config) (orgatlas.Engine, error) {
			return orgatlas.New(cfg)
		},
	}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orgatlas",
		Short: "Build a knowledge model of an organisation from its documents",
		Long: `orgatlas extracts entities, relationships, insights, territories and an
agent hierarchy from organisational documents using a language model, and
stores the result in a local SQLite database.

Configuration is read from orgatlas.yaml (current directory or ~/.orgatlas),
then ORGATLAS_* environment variables, then flags. Nested keys map to
variables with underscores, e.g. provider.api_key -> ORGATLAS_PROVIDER_API_KEY.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(a.configFile)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			for key, name := range map[string]string{
				"db_path":   "db",
				keyLogLevel: "log-level",
				keyLogFile:  "log-file",
			} {
				if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
					return err
				}
			}
			a.v = v

			closer, err := setupLogging(v.GetString(keyLogLevel), v.GetString(keyLogFile))
			if err != nil {
				return err
			}
			a.logCloser = closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				a.logCloser.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Path to config file (yaml, json or toml)")
	pf.String("db", "", "Path to the SQLite database (overrides db_path)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-file", "", "Write logs to this file with rotation instead of stderr")

	root.AddCommand(
		a.projectCmd(),
		a.documentCmd(),
		a.extractCmd(),
		a.territoriesCmd(),
		a.agentsCmd(),
		a.entitiesCmd(),
		a.graphCmd(),
		a.serveCmd(),
	)
	return root
}

// openEngine builds the engine from the layered configuration.
func (a *app) openEngine() (orgatlas.Engine, orgatlas.Config, error) {
	cfg, err := engineConfig(a.v)
	if err != nil {
		return nil, cfg, err
	}
	e, err := a.newEngine(cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("creating engine: %w", err)
	}
	return e, cfg, nil
}

// bindFlags binds command-local flags to config keys.
func (a *app) bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
