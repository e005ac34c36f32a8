package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicesafe/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voicesafe"
	serviceVersion    = "1.0.0"
)

type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Voice chat safety sampling and moderation",
		Long:         "Samples microphone audio on a remotely tuned duty cycle, uploads non-silent windows for moderation and relays enforcement actions.",
		Version:      serviceVersion,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Dotenv file with VOICESAFE_* overrides")

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newInspectCmd(flags))
	rootCmd.AddCommand(newReportCmd(flags))
	rootCmd.AddCommand(newStatusCmd(flags))
	rootCmd.AddCommand(newRemoteConfigCmd(flags))

	return rootCmd
}

// loadConfig reads the dotenv file and the config file. A missing default
// config file falls back to built-in defaults.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	config.LoadDotEnv(flags.envFile)

	path := flags.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func requireAppKey(cfg *config.Config) error {
	if cfg.API.AppKey == "" {
		return fmt.Errorf("no app key configured, set api.app_key or %s", config.EnvAppKey)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
