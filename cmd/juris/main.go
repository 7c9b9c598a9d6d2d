// Command juris runs the legal consultation service and its admin tools.
package main

import (
	"fmt"
	"os"

	"juris/internal/config"
	"juris/internal/logging"

	"github.com/spf13/cobra"
)

// cli holds the state shared by every subcommand.
type cli struct {
	configPath string
	verbose    bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "juris",
		Short: "juris - legal consultation chat service",
		Long: `juris serves the consultation API: accounts, conversations with
streamed answers from the configured model, uploads, knowledge bases,
share links and document export.

Run "juris serve" to start the HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "juris.yaml", "Path to the YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		c.serveCmd(),
		c.migrateCmd(),
		c.userCmd(),
		c.askCmd(),
		c.exportCmd(),
	)
	return root
}

// init loads the config and builds the root logger.
func (c *cli) init() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Logging.DebugMode = true
	}
	if err := logging.Initialize(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		DebugMode:  cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
