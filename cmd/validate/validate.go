// Package validate implements the configuration check subcommand.
package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guardtrack/guardtrack-go/internal/conf"
)

// Command creates the validate subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.ValidateSettings(settings); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	}
}
