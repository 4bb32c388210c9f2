// Package notify delivers local notifications.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/model"
)

// Category groups notifications for the user's settings.
type Category string

const (
	// CategoryAction is feedback on the user's own panic, alert and share
	// actions. It is never filtered.
	CategoryAction   Category = "action"
	CategoryPanic    Category = "panic"
	CategoryZone     Category = "zone"
	CategoryIncident Category = "incident"
	CategoryRisk     Category = "risk"
	// CategoryService reports backend reachability. Only the master switch
	// silences it.
	CategoryService  Category = "service"
)

// Priority is the delivery urgency.
type Priority string

const (
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
)

// Notification is one local notification.
type Notification struct {
	Category  Category       `json:"category"`
	Priority  Priority       `json:"priority"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the global logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	zap.L().Info("notification",
		zap.String("component", "notify"),
		zap.String("category", string(n.Category)),
		zap.String("priority", string(n.Priority)),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
	)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SettingsSource provides the persisted notification settings.
type SettingsSource interface {
	GetNotificationSettings(ctx context.Context) (model.NotificationSettings, error)
}

// Filtered drops notifications the user has turned off.
type Filtered struct {
	Next     Notifier
	Settings SettingsSource
}

func (f Filtered) Notify(ctx context.Context, n Notification) error {
	if n.Category != CategoryAction {
		s, err := f.Settings.GetNotificationSettings(ctx)
		if err != nil {
			zap.L().Warn("read notification settings", zap.String("component", "notify"), zap.Error(err))
			s = model.DefaultNotificationSettings()
		}
		if !Allowed(s, n.Category) {
			return nil
		}
	}
	return f.Next.Notify(ctx, n)
}

// Allowed reports whether settings permit category.
func Allowed(s model.NotificationSettings, c Category) bool {
	if c == CategoryAction {
		return true
	}
	if !s.Enabled {
		return false
	}
	switch c {
	case CategoryPanic:
		return s.PanicAlerts
	case CategoryZone:
		return s.ZoneTransitions
	case CategoryIncident:
		return s.IncidentAlerts
	case CategoryRisk:
		return s.RiskWarnings
	default:
		return true
	}
}

// Recorder keeps the most recent notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

// NewRecorder keeps up to limit notifications.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 100
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
	return nil
}

// Recent returns the recorded notifications, oldest first.
func (r *Recorder) Recent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}
