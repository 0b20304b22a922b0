package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uplift/internal/config"
	"uplift/internal/logging"
)

var (
	cfg     *config.Config
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "uplift",
	Short: "uplift - resumable HTTP upload queue",
	Long: `uplift uploads files and folders to an upload server over HTTP with
resumability, queuing, pause handling and live throughput reporting.

Usage:
  Upload files:       uplift upload --dest /docs ./report.pdf ./images
  Run a dev server:   uplift serve --root /tmp/uploads

Uploads are resumable: when the server reports a matching partial upload,
uplift asks whether to continue from the reported offset instead of
re-sending the whole file.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize viper configuration
		initConfig()

		// Initialize configuration
		cfg = config.NewDefaultConfig()
		applyOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	},
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.uplift.yaml)")
	rootCmd.PersistentFlags().String("server", "", "upload server base URL")
	viper.BindPFlag("server.base_url", rootCmd.PersistentFlags().Lookup("server"))

	// Set up viper environment variable support
	viper.SetEnvPrefix("UPLIFT")
	viper.AutomaticEnv()
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("Warning: Could not find home directory: %v", err)
			return
		}

		// Search config in home directory with name ".uplift" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".uplift")
	}

	// Read in environment variables that match
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		log.Printf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// applyOverrides copies any viper-provided values over the defaults.
func applyOverrides(c *config.Config) {
	if v := viper.GetString("server.base_url"); v != "" {
		c.Server.BaseURL = v
	}
	if v := viper.GetString("server.listen_addr"); v != "" {
		c.Server.ListenAddr = v
	}
	if viper.IsSet("server.max_upload_size") {
		c.Server.MaxUploadSize = viper.GetInt64("server.max_upload_size")
	}
	if v := viper.GetString("upload.accept_policy"); v != "" {
		c.Upload.AcceptPolicy = v
	}
	if viper.IsSet("upload.skip_existing") {
		c.Upload.SkipExisting = viper.GetBool("upload.skip_existing")
	}
	if v := viper.GetDuration("upload.sample_interval"); v > 0 {
		c.Upload.SampleInterval = v
	}
	if v := viper.GetDuration("upload.confirm_timeout"); v > 0 {
		c.Upload.ConfirmTimeout = v
	}
	if v := viper.GetDuration("upload.request_timeout"); v > 0 {
		c.Upload.RequestTimeout = v
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	return ctx
}

// newLogger builds the structured logger shared by the commands.
func newLogger() logging.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return logging.NewSlogLogger(slog.New(handler))
}
