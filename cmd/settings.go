package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change notification settings",
	Long:  "Without flags prints the current settings. Each flag turns one notification category on or off; feedback on your own actions is always shown.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Store.GetNotificationSettings(ctx)
		if err != nil {
			return err
		}

		flags := map[string]*bool{
			"enabled":   &s.Enabled,
			"panic":     &s.PanicAlerts,
			"zones":     &s.ZoneTransitions,
			"incidents": &s.IncidentAlerts,
			"risk":      &s.RiskWarnings,
		}
		changed := false
		for name, dst := range flags {
			if cmd.Flags().Changed(name) {
				*dst, _ = cmd.Flags().GetBool(name)
				changed = true
			}
		}
		if changed {
			if err := env.Store.SaveNotificationSettings(ctx, s); err != nil {
				return err
			}
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enabled=%t panic=%t zones=%t incidents=%t risk=%t\n",
			s.Enabled, s.PanicAlerts, s.ZoneTransitions, s.IncidentAlerts, s.RiskWarnings)
		return nil
	},
}

func init() {
	settingsCmd.Flags().Bool("enabled", true, "all notifications")
	settingsCmd.Flags().Bool("panic", true, "nearby panic alerts")
	settingsCmd.Flags().Bool("zones", true, "safe-zone enter and exit")
	settingsCmd.Flags().Bool("incidents", true, "nearby incidents")
	settingsCmd.Flags().Bool("risk", true, "area risk warnings")
	rootCmd.AddCommand(settingsCmd)
}
