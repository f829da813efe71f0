package main

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cv-recommender/infrastructure"
)

const app = "cv-recommender"

// Actual version can be specified in build command.
var version = "unknown"

var cfgFile string

func main() {
	// Load .env
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   app,
		Short: "Embedding ingestion worker and candidate matching API",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), modeWorker|modeAPI)
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "worker",
			Short: "Consume ingestion events only",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), modeWorker)
			},
		},
		&cobra.Command{
			Use:   "api",
			Short: "Serve the matching API only",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), modeAPI)
			},
		},
		newPublishCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	infrastructure.ApplyDefaults(viper.GetViper())
	defaults := infrastructure.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().String("broker-url", defaults.GetString("broker.url"), "RabbitMQ URL")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", defaults.GetBool("log.json"), "JSON log output")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "broker.url", "broker-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.json", "log-json")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s version: %s\n", app, version)
		},
	}
}
