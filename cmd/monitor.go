package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/geofence"
	"github.com/sells-group/safewatch/internal/location"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the safety agent until interrupted",
	Long:  "Streams location samples through the geofence evaluator, listens for nearby incidents and panic alerts, uploads location, and serves local status.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		trackPath, _ := cmd.Flags().GetString("track")
		zonesPath, _ := cmd.Flags().GetString("zones")
		if cmd.Flags().Changed("status-port") {
			cfg.Status.Port, _ = cmd.Flags().GetInt("status-port")
		}
		if trackPath == "" {
			trackPath = cfg.Location.TrackFile
		}
		if zonesPath == "" {
			zonesPath = cfg.Geofence.ZonesFile
		}
		if trackPath == "" {
			return eris.New("monitor: a location source is required (--track or location.track_file)")
		}

		track, err := location.LoadTrack(trackPath)
		if err != nil {
			return err
		}
		var zones []model.SafeZone
		if zonesPath != "" {
			zones, err = geofence.LoadZonesGeoJSON(zonesPath)
			if err != nil {
				return err
			}
			zap.L().Info("using zone fixture", zap.String("path", zonesPath), zap.Int("zones", len(zones)))
		}

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		svc, err := monitor.New(cfg, monitor.Deps{
			API:      env.API,
			Session:  env.Session,
			Store:    env.Store,
			Provider: location.NewReplayProvider(track),
			Risk:     riskClient(),
			Zones:    zones,
		})
		if err != nil {
			return err
		}
		defer svc.Close() //nolint:errcheck

		return svc.Run(ctx)
	},
}

func init() {
	monitorCmd.Flags().String("track", "", "YAML location track to replay as the device location source")
	monitorCmd.Flags().String("zones", "", "GeoJSON safe-zone fixture used instead of the backend zone list")
	monitorCmd.Flags().Int("status-port", 0, "local status endpoint port (0 disables; overrides status.port)")
	rootCmd.AddCommand(monitorCmd)
}
