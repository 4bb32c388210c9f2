package location

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/safewatch/internal/model"
)

// Track is a recorded route replayed by ReplayProvider.
type Track struct {
	// Interval is the pause between points during playback.
	Interval time.Duration `yaml:"interval"`
	// Loop restarts the track after the last point.
	Loop bool `yaml:"loop"`
	// DenyBackground simulates a user who refused background location.
	DenyBackground bool         `yaml:"deny_background"`
	Points         []TrackPoint `yaml:"points"`
}

// TrackPoint is one recorded fix.
type TrackPoint struct {
	Lat      float64  `yaml:"lat"`
	Lng      float64  `yaml:"lng"`
	Speed    *float64 `yaml:"speed,omitempty"`
	Accuracy *float64 `yaml:"accuracy,omitempty"`
}

// LoadTrack reads a YAML track file.
func LoadTrack(path string) (*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "location: read track %s", path)
	}
	return ParseTrack(data)
}

// ParseTrack decodes a YAML track.
func ParseTrack(data []byte) (*Track, error) {
	var tr Track
	if err := yaml.Unmarshal(data, &tr); err != nil {
		return nil, eris.Wrap(err, "location: parse track")
	}
	if len(tr.Points) == 0 {
		return nil, eris.New("location: track has no points")
	}
	if tr.Interval <= 0 {
		tr.Interval = time.Second
	}
	return &tr, nil
}

// ReplayProvider plays a Track back as a live location source. Samples are
// stamped with the wall clock at emission.
type ReplayProvider struct {
	track *Track
	now   func() time.Time
}

// NewReplayProvider creates a provider for track.
func NewReplayProvider(track *Track) *ReplayProvider {
	return &ReplayProvider{track: track, now: time.Now}
}

// Permission grants foreground access always and background access unless
// the track denies it.
func (p *ReplayProvider) Permission(_ context.Context, mode Mode) (bool, error) {
	return mode == ModeForeground || !p.track.DenyBackground, nil
}

// Subscribe starts playback. The channel closes at the end of a non-looping
// track or when ctx is cancelled.
func (p *ReplayProvider) Subscribe(ctx context.Context, _ Accuracy) (<-chan model.LocationSample, error) {
	ch := make(chan model.LocationSample)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(p.track.Interval)
		defer ticker.Stop()

		for {
			for i, pt := range p.track.Points {
				if i > 0 {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
				sample := model.LocationSample{
					Latitude:       pt.Lat,
					Longitude:      pt.Lng,
					Speed:          pt.Speed,
					AccuracyMeters: pt.Accuracy,
					CapturedAt:     p.now(),
				}
				select {
				case <-ctx.Done():
					return
				case ch <- sample:
				}
			}
			if !p.track.Loop {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}
