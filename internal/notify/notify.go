// Package notify delivers fire-and-forget (title, body) notifications.
package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// Sink receives notifications. Delivery failures are never reported back.
type Sink interface {
	Notify(title, body string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(string, string) {}

// LogSink writes notifications to a logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Notify(title, body string) {
	s.Logger.Info().Str("title", title).Msg(body)
}

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod         = notificationsService + ".Notify"
)

// caller is the slice of dbus.BusObject the sink needs.
type caller interface {
	Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call
}

// DBusSink posts desktop notifications over the session bus.
type DBusSink struct {
	conn    *dbus.Conn
	obj     caller
	appName string
	logger  zerolog.Logger
}

// NewDBusSink connects to the session bus.
func NewDBusSink(appName string, logger zerolog.Logger) (*DBusSink, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	sink := newDBusSink(conn.Object(notificationsService, notificationsPath), appName, logger)
	sink.conn = conn
	return sink, nil
}

func newDBusSink(obj caller, appName string, logger zerolog.Logger) *DBusSink {
	return &DBusSink{
		obj:     obj,
		appName: appName,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Notify sends the notification without waiting for a reply.
func (s *DBusSink) Notify(title, body string) {
	// app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout
	call := s.obj.Go(notifyMethod, dbus.FlagNoReplyExpected, nil,
		s.appName, uint32(0), "", title, body,
		[]string{}, map[string]dbus.Variant{}, int32(-1))
	if call != nil && call.Err != nil {
		s.logger.Warn().Err(call.Err).Str("title", title).Msg("failed to send desktop notification")
	}
}

// Close releases the bus connection.
func (s *DBusSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
