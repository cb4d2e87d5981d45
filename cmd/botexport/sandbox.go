package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/botexport/internal/constants"
	"github.com/loykin/botexport/internal/sandbox"
)

var (
	sandboxAddr     string
	sandboxGuilds   int
	sandboxChannels int
	sandboxRoles    int
	sandboxSecret   string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Serve a local imitation of the API for offline runs",
	Long: `Serve seeded guilds, channels and roles on a local address. Point exports
at it with --base-url http://<addr>/api/v10 and the printed token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		logger, err := doc.SetupLogging()
		if err != nil {
			return err
		}
		if sandboxGuilds < 0 || sandboxChannels < 0 || sandboxRoles < 0 {
			return fmt.Errorf("guilds, channels and roles must not be negative")
		}
		fixture := sandbox.NewFixture(sandboxGuilds, sandboxChannels, sandboxRoles)
		srv := sandbox.New(sandbox.Options{
			Token:   fixture.Token(sandboxSecret),
			Fixture: &fixture,
			Logger:  logger,
		})
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "token:    %s\nbase url: http://%s%s\n", srv.Token(), sandboxAddr, sandbox.BasePath)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, sandboxAddr)
	},
}

func init() {
	f := sandboxCmd.Flags()
	f.StringVar(&sandboxAddr, "addr", constants.DefaultSandboxAddr, "listen address")
	f.IntVar(&sandboxGuilds, "guilds", 2, "number of seeded guilds")
	f.IntVar(&sandboxChannels, "channels", 3, "text channels per guild")
	f.IntVar(&sandboxRoles, "roles", 1, "roles per guild")
	f.StringVar(&sandboxSecret, "secret", constants.DefaultSandboxToken, "secret part of the accepted token")
}
