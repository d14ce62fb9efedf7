package command

// root.go defines the root command for twinctl.
// set up the global flags and shared helpers here.

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"twinbridge/cmd/cli/command/client"
	"twinbridge/cmd/cli/command/state"
	"twinbridge/internal/config"
)

var (
	apiURL    string // Global flag for control API URL
	token     string // bearer token, overrides the saved one
	tokenFile string // where auth login stores the token
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "twinctl",
	Short: "twinctl - twinbridge command line interface",
	Long: `twinctl talks to a twinbridge deployment. It can:
- Drive trajectory playback on a running publisher-server
- Feed single channel angles, over the control API or directly on the bus
- Listen to physical and digital channel events
- Import trajectory files into the database

Transport, prefixes and database settings come from the same environment
(or .env file) as the servers.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8090", "control API URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (defaults to the one saved by auth login)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", state.GetStateFilePath(), "token file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the shared environment the servers use
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return cfg.NewLogger(os.Stderr)
}

// apiClient returns a control API client carrying --token or the saved token
func apiClient() (*client.HTTPClient, error) {
	c := client.NewHTTPClient(apiURL)
	if token != "" {
		c.SetToken(token)
		return c, nil
	}

	saved, err := state.LoadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read saved token: %w", err)
	}
	if saved != nil {
		if saved.Expired(timeNow()) {
			fmt.Fprintln(os.Stderr, "warning: saved token has expired, run 'twinctl auth login'")
		} else {
			c.SetToken(saved.Token)
		}
	}
	return c, nil
}
