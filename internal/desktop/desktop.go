// Package desktop posts a freedesktop notification when a job finishes.
package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"go2tv.app/gifcast/internal/apis"
	"go2tv.app/gifcast/internal/convert"
	"go2tv.app/gifcast/internal/logging"
	"go2tv.app/gifcast/pipeline"
)

const (
	notifyMethod   = apis.NotificationsName + ".Notify"
	defaultAppName = "gifcast"
	defaultTimeout = 8 * time.Second
)

// Urgency hint values understood by notification daemons.
const (
	UrgencyLow      byte = 0
	UrgencyNormal   byte = 1
	UrgencyCritical byte = 2
)

// Message is the rendered notification for a result.
type Message struct {
	Summary string
	Body    string
	Urgency byte
}

// MessageFor renders r.
func MessageFor(r *pipeline.Result) Message {
	switch r.Status {
	case pipeline.StatusCompleted:
		return Message{
			Summary: "GIF ready",
			Body:    fmt.Sprintf("%s\n%s", gifName(r), videoName(r)),
			Urgency: UrgencyNormal,
		}
	case pipeline.StatusVideoOnly:
		body := videoName(r)
		if r.Error != "" {
			body += "\nGIF not created: " + r.Error
		}
		return Message{Summary: "Recording saved", Body: body, Urgency: UrgencyNormal}
	case pipeline.StatusEmpty:
		return Message{
			Summary: "Nothing recorded",
			Body:    fmt.Sprintf("%s produced no video data", r.SourceName),
			Urgency: UrgencyLow,
		}
	default:
		body := r.Error
		if body == "" {
			body = "unknown error"
		}
		return Message{Summary: "Recording failed", Body: body, Urgency: UrgencyCritical}
	}
}

func videoName(r *pipeline.Result) string {
	if r.Video == nil {
		return ""
	}
	return filepath.Base(r.Video.Path)
}

func gifName(r *pipeline.Result) string {
	if r.GIF == nil {
		return ""
	}
	return filepath.Base(r.GIF.Path)
}

type Options struct {
	// Bus defaults to the session bus, connected on first use.
	Bus     apis.Bus
	AppName string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Notifier implements pipeline.Notifier. Each notification replaces the
// previous one so a burst of jobs leaves a single bubble.
type Notifier struct {
	appName string
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	bus    apis.Bus
	lastID uint32
}

func New(opts Options) *Notifier {
	if opts.AppName == "" {
		opts.AppName = defaultAppName
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Notifier{
		appName: opts.AppName,
		timeout: opts.Timeout,
		log:     logging.OrDiscard(opts.Logger),
		bus:     opts.Bus,
	}
}

// Notify posts the notification. Failures are logged and otherwise ignored.
func (n *Notifier) Notify(ctx context.Context, r *pipeline.Result) {
	if r == nil {
		return
	}
	if err := n.Send(ctx, MessageFor(r)); err != nil {
		n.log.Warn("desktop notification failed", "session", r.SessionID, "err", err)
	}
}

// Send posts m and remembers the returned id.
func (n *Notifier) Send(ctx context.Context, m Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.bus == nil {
		bus, err := apis.SessionBus()
		if err != nil {
			return err
		}
		n.bus = bus
	}

	hints := map[string]dbus.Variant{
		"urgency":       convert.FromByte(m.Urgency),
		"desktop-entry": convert.FromString(n.appName),
		"transient":     convert.FromBool(m.Urgency == UrgencyLow),
	}
	call, err := apis.Call(ctx, n.bus, apis.NotificationsName, apis.NotificationsPath, notifyMethod,
		n.appName, n.lastID, "video-x-generic", m.Summary, m.Body,
		[]string{}, hints, int32(n.timeout.Milliseconds()),
	)
	if err != nil {
		return err
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("read notification id: %w", err)
	}
	n.lastID = id
	n.log.Debug("desktop notification sent", "id", id, "summary", m.Summary)
	return nil
}
