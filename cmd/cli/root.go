// Package cli implements the vulnhawk command-line interface: the serve
// command running the full orchestration service, and operator commands for
// submitting and inspecting scans.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vulnhawk/vulnhawk/internal/config"
	"github.com/vulnhawk/vulnhawk/internal/logging"
	"github.com/vulnhawk/vulnhawk/internal/version"
)

const defaultDatabasePort = 5432

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "vulnhawk",
	Short: "Scan orchestration and finding aggregation engine",
	Long: `Vulnhawk orchestrates vulnerability scans against verified targets,
deduplicates the resulting findings across scan history, and exposes the
aggregate through a REST API, a websocket event stream, and SARIF export.`,
	Version: version.String(),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads the config file and matching environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("VULNHAWK")

	setConfigDefaults()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

func setConfigDefaults() {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", defaultDatabasePort)
	viper.SetDefault("database.database", "vulnhawk")
	viper.SetDefault("database.username", "vulnhawk")
	viper.SetDefault("database.ssl_mode", "disable")

	viper.SetDefault("scanning.worker_pool_size", 4)
	viper.SetDefault("scanning.module_timeout", "10m")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen_addr", "127.0.0.1")
	viper.SetDefault("api.port", 8080)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
}

// getConfigFilePath resolves the effective config file path for config.Load.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "config.yaml"
}

// SetVersion records build information; called from main.
func SetVersion(v, c, bt string) {
	version.Version = v
	version.Commit = c
	version.BuildTime = bt
	rootCmd.Version = version.String()
}

// initLogging initializes structured logging from the loaded configuration.
func initLogging() {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logger, err := logging.New(cfg.LoggingSettings())
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}
