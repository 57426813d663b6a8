package cmd

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zapfunnel/zapfunnel/core/config"
	"github.com/zapfunnel/zapfunnel/infrastructure/notify"
	"github.com/zapfunnel/zapfunnel/pkg/vault"
)

var rootCmd = &cobra.Command{
	Use:   "zapfunnel",
	Short: "Multi-tenant WhatsApp CRM messaging engine",
	Long: `zapfunnel runs multiple WhatsApp connections (protocol sessions and
official Cloud API numbers), persists every conversation and routes new
inbound messages through persona-driven AI replies and automation rules.`,
}

func init() {
	// .env is optional, real deployments use environment variables.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("[APP] could not load .env file")
	}

	time.Local = time.UTC
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	viper.AutomaticEnv()

	cobra.OnInitialize(initApp)
}

func initApp() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("[APP] failed to load configuration: %v", err)
	}

	if cfg.App.Debug {
		cfg.Whatsapp.LogLevel = "DEBUG"
		logrus.SetLevel(logrus.DebugLevel)
	}

	for _, dir := range []string{cfg.Paths.Storages, cfg.Paths.QrCode} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Errorln(err)
		}
	}

	vault.Configure(cfg.Security.SecretKey)
	notify.Configure(cfg.Notify)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
