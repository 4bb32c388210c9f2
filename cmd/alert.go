package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/safewatch/internal/dispatch"
	"github.com/sells-group/safewatch/internal/geofence"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/api"
	"github.com/sells-group/safewatch/pkg/geo"
)

var panicCmd = &cobra.Command{
	Use:   "panic",
	Short: "Raise a panic alert at a location",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		p, err := pointFlags(cmd)
		if err != nil {
			return err
		}
		severity, _ := cmd.Flags().GetString("severity")
		kind, _ := cmd.Flags().GetString("type")
		desc, _ := cmd.Flags().GetString("description")

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		alert, err := env.dispatcher().SendPanicAlert(ctx, api.PanicRequest{
			Lat:         p.Lat,
			Lng:         p.Lng,
			Severity:    severity,
			Type:        kind,
			Description: desc,
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Panic alert %s sent at %s.\n", alert.ID, alert.Timestamp.Format(time.RFC3339))
		return nil
	},
}

var alertCmd = &cobra.Command{
	Use:       "alert <general|medical|safety|lost|harassment>",
	Short:     "Send an emergency alert to every active contact",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"general", "medical", "safety", "lost", "harassment"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := dispatch.ParseKind(args[0])
		if err != nil {
			return err
		}
		p, err := pointFlags(cmd)
		if err != nil {
			return err
		}

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.dispatcher().SendEmergencyAlert(ctx, kind, p); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), dispatch.Message(kind, p))
		return nil
	},
}

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share a location with every active contact",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		p, err := pointFlags(cmd)
		if err != nil {
			return err
		}
		msg, _ := cmd.Flags().GetString("message")

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.dispatcher().SendLocationToContacts(ctx, p, msg); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Location shared.")
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a location is inside a safe zone",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		p, err := pointFlags(cmd)
		if err != nil {
			return err
		}

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ev := geofence.NewEvaluator(env.Session, env.API)
		if err := ev.Initialize(ctx); err != nil {
			return err
		}
		local := ev.Evaluate(model.LocationSample{Latitude: p.Lat, Longitude: p.Lng, CapturedAt: time.Now()})
		out := cmd.OutOrStdout()
		printSafety(out, "local", local)

		server, err := ev.CheckNow(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(out, "server: unavailable (%v)\n", err)
			return nil
		}
		printSafety(out, "server", *server)
		return nil
	},
}

// pointFlags reads --lat and --lng.
func pointFlags(cmd *cobra.Command) (geo.Point, error) {
	lat, _ := cmd.Flags().GetFloat64("lat")
	lng, _ := cmd.Flags().GetFloat64("lng")
	p := geo.Point{Lat: lat, Lng: lng}
	if !geo.Valid(p) {
		return p, eris.Errorf("invalid coordinate %.6f,%.6f", lat, lng)
	}
	return p, nil
}

func init() {
	for _, c := range []*cobra.Command{panicCmd, alertCmd, shareCmd, checkCmd} {
		c.Flags().Float64("lat", 0, "latitude in decimal degrees")
		c.Flags().Float64("lng", 0, "longitude in decimal degrees")
		_ = c.MarkFlagRequired("lat")
		_ = c.MarkFlagRequired("lng")
		rootCmd.AddCommand(c)
	}
	panicCmd.Flags().String("severity", "high", "alert severity")
	panicCmd.Flags().String("type", "panic", "alert type")
	panicCmd.Flags().String("description", "", "what is happening")
	shareCmd.Flags().String("message", "", "message sent with the location")
}
