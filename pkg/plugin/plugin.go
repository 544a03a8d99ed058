// Package plugin defines the contract between the LockWatch server and its
// modules (recon, pulse, media, vault).
package plugin

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Supported plugin API versions. Plugins declaring an APIVersion outside
// [APIVersionMin, APIVersionCurrent] are disabled by the registry.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// PluginInfo describes a plugin to the registry.
type PluginInfo struct {
	Name         string
	Version      string
	Description  string
	Dependencies []string
	Required     bool
	APIVersion   int
}

// Plugin defines the interface that all LockWatch modules must implement.
type Plugin interface {
	// Info returns the plugin's identity and dependency declaration.
	Info() PluginInfo

	// Init wires the plugin to its dependencies. No background work starts here.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop(ctx context.Context) error
}

// Dependencies are the shared services handed to each plugin at Init.
type Dependencies struct {
	Config  Config
	Logger  *zap.Logger
	Store   Store
	Bus     EventBus
	Plugins PluginResolver
}

// PluginResolver looks up other registered, enabled plugins by name.
type PluginResolver interface {
	Resolve(name string) (Plugin, bool)
}

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// HealthStatus is reported by plugins implementing HealthChecker.
type HealthStatus struct {
	Status  string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Config is the read-only configuration view given to a plugin. Keys are
// relative to the plugin's own section.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetFloat64(key string) float64
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	IsSet(key string) bool
	Sub(key string) Config
	Unmarshal(target any) error
	UnmarshalKey(key string, target any) error
}

// Store is the shared database handle.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, pluginName string, migrations []Migration) error
}

// Migration is a single schema change owned by a plugin.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Event is a message published on the EventBus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event Event)

// Subscription pairs a topic with its handler.
type Subscription struct {
	Topic   string
	Handler EventHandler
}

// EventBus delivers events between plugins.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}
