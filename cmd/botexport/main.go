package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/botexport/internal/constants"
)

var rootCmd = &cobra.Command{
	Use:           "botexport",
	Short:         "Export a bot application's configuration and usage data",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	v := viper.GetViper()
	v.SetDefault("config", "")

	// Environment variables support: BOTEXPORT_TOKEN, BOTEXPORT_CONFIG, ...
	v.SetEnvPrefix(constants.EnvPrefix)
	v.AutomaticEnv()

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a config yaml")
	pf.StringP("token", "t", "", "bot token (also BOTEXPORT_TOKEN)")
	pf.StringP("bot-id", "b", "", "bot id for identifier-only mode")
	pf.String("auth-scheme", "", "Authorization scheme for the token (Bearer or Bot)")
	pf.String("base-url", "", "API base URL")
	pf.String("log-level", "", "log level: error, warn, info, debug")
	pf.String("log-format", "", "log format: text, json, color")
	pf.Bool("no-store", false, "do not record runs in the history store")
	pf.String("db", "", "sqlite path of the history store")

	for key, name := range map[string]string{
		"config":      "config",
		"token":       "token",
		"bot_id":      "bot-id",
		"auth_scheme": "auth-scheme",
		"base_url":    "base-url",
		"log_level":   "log-level",
		"log_format":  "log-format",
		"no_store":    "no-store",
		"db":          "db",
	} {
		_ = v.BindPFlag(key, pf.Lookup(name))
	}

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(functionsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
