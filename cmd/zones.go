package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/safewatch/internal/geofence"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Inspect safe zones",
}

// -- zones list --

var zonesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backend's safe zones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ev := geofence.NewEvaluator(env.Session, env.API)
		if err := ev.Initialize(ctx); err != nil {
			return err
		}
		zones := ev.Zones()

		if asGeoJSON, _ := cmd.Flags().GetBool("geojson"); asGeoJSON {
			data, err := geofence.ZonesToGeoJSON(zones)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		if len(zones) == 0 {
			fmt.Fprintln(os.Stderr, "No safe zones.")
			return nil
		}
		formatZones(cmd.OutOrStdout(), zones)
		return nil
	},
}

// -- zones import --

var zonesImportCmd = &cobra.Command{
	Use:   "import <file.geojson>",
	Short: "Validate a GeoJSON zone fixture and write it normalized",
	Long:  "Parses a FeatureCollection of Point features with a radius_meters property, prints the zones it defines, and writes the normalized fixture to --out (for use with `monitor --zones`).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		zones, err := geofence.LoadZonesGeoJSON(args[0])
		if err != nil {
			return err
		}
		formatZones(cmd.OutOrStdout(), zones)

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return nil
		}
		data, err := geofence.ZonesToGeoJSON(zones)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", out)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d zone(s) to %s.\n", len(zones), out)
		return nil
	},
}

func init() {
	zonesListCmd.Flags().Bool("geojson", false, "print as a GeoJSON FeatureCollection")
	zonesImportCmd.Flags().String("out", "", "write the normalized fixture to this path")

	zonesCmd.AddCommand(zonesListCmd)
	zonesCmd.AddCommand(zonesImportCmd)
	rootCmd.AddCommand(zonesCmd)
}
