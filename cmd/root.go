package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/guardtrack/guardtrack-go/cmd/agent"
	"github.com/guardtrack/guardtrack-go/cmd/server"
	"github.com/guardtrack/guardtrack-go/cmd/validate"
	"github.com/guardtrack/guardtrack-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guardtrack",
		Short: "GuardTrack patrol coordination CLI",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		server.Command(settings),
		agent.Command(settings),
		validate.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Server.Host, "host", viper.GetString("server.host"), "Address the server listens on")
	rootCmd.PersistentFlags().StringVar(&settings.Server.Port, "port", viper.GetString("server.port"), "Port the server listens on")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
