// Package registry manages plugin registration, dependency ordering and lifecycle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/HerbHall/lockwatch/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.PluginResolver = (*Registry)(nil)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu        sync.RWMutex
	plugins   map[string]plugin.Plugin
	regOrder  []string
	order     []string // topological order, set by Validate
	disabled  map[string]string
	validated bool
	logger    *zap.Logger
}

// New creates an empty plugin registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		plugins:  make(map[string]plugin.Plugin),
		disabled: make(map[string]string),
		logger:   logger,
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	if info.Name == "" {
		return errors.New("plugin name must not be empty")
	}
	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}

	r.plugins[info.Name] = p
	r.regOrder = append(r.regOrder, info.Name)
	r.validated = false
	r.logger.Info("plugin registered",
		zap.String("name", info.Name),
		zap.String("version", info.Version),
	)
	return nil
}

// Validate checks API versions and dependencies and computes the start order.
// Optional plugins with an unsupported API version or a missing dependency are
// disabled, along with everything that depends on them. The same problems on
// a Required plugin are returned as errors.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.regOrder {
		info := r.plugins[name].Info()
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			reason := fmt.Sprintf("unsupported API version %d", info.APIVersion)
			if info.Required {
				return fmt.Errorf("plugin %q: %s", name, reason)
			}
			r.disable(name, reason)
			continue
		}
		for _, dep := range info.Dependencies {
			if _, ok := r.plugins[dep]; ok {
				continue
			}
			reason := fmt.Sprintf("missing dependency %q", dep)
			if info.Required {
				return fmt.Errorf("plugin %q: %s", name, reason)
			}
			r.disable(name, reason)
		}
	}

	order, err := r.topoSort()
	if err != nil {
		return err
	}

	// Cascade: anything depending on a disabled plugin is disabled too.
	for _, name := range order {
		for _, dep := range r.plugins[name].Info().Dependencies {
			if _, off := r.disabled[dep]; off {
				if r.plugins[name].Info().Required {
					return fmt.Errorf("plugin %q: required dependency %q is disabled", name, dep)
				}
				r.disable(name, fmt.Sprintf("dependency %q disabled", dep))
			}
		}
	}

	r.order = order
	r.validated = true
	return nil
}

func (r *Registry) disable(name, reason string) {
	if _, already := r.disabled[name]; already {
		return
	}
	r.disabled[name] = reason
	r.logger.Warn("plugin disabled", zap.String("name", name), zap.String("reason", reason))
}

// topoSort orders plugins so dependencies come first. Ties keep registration order.
func (r *Registry) topoSort() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.plugins))
	order := make([]string, 0, len(r.plugins))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle: %v -> %s", path, name)
		}
		state[name] = visiting
		for _, dep := range r.plugins[name].Info().Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				continue
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range r.regOrder {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// InitAll initializes every enabled plugin in dependency order. depsFn builds
// the Dependencies for a plugin by name. A plugin whose config sets
// enabled=false is skipped. Optional plugins that fail Init are disabled.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	for _, name := range r.enabledOrder() {
		p := r.plugins[name]
		deps := depsFn(name)
		if deps.Plugins == nil {
			deps.Plugins = r
		}

		if deps.Config != nil && deps.Config.IsSet("enabled") && !deps.Config.GetBool("enabled") {
			r.mu.Lock()
			r.disable(name, "disabled by configuration")
			r.mu.Unlock()
			continue
		}

		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := p.Init(ctx, deps); err != nil {
			if p.Info().Required {
				return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
			}
			r.mu.Lock()
			r.disable(name, "init failed: "+err.Error())
			r.mu.Unlock()
			continue
		}

		if v, ok := p.(plugin.Validator); ok {
			if err := v.ValidateConfig(); err != nil {
				return fmt.Errorf("plugin %q config: %w", name, err)
			}
		}
		if sub, ok := p.(plugin.EventSubscriber); ok && deps.Bus != nil {
			for _, s := range sub.Subscriptions() {
				deps.Bus.Subscribe(s.Topic, s.Handler)
			}
		}
	}
	return nil
}

// StartAll starts all enabled plugins in dependency order.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, name := range r.enabledOrder() {
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := r.plugins[name].Start(ctx); err != nil {
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
	}
	return nil
}

// StopAll stops all enabled plugins in reverse order.
func (r *Registry) StopAll(ctx context.Context) {
	order := r.enabledOrder()
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(ctx); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

// Get returns a registered plugin by name, enabled or not.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Resolve implements plugin.PluginResolver. Disabled plugins are not resolvable.
func (r *Registry) Resolve(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, off := r.disabled[name]; off {
		return nil, false
	}
	p, ok := r.plugins[name]
	return p, ok
}

// IsDisabled reports whether the named plugin has been disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, off := r.disabled[name]
	return off
}

// All returns all enabled plugins in start order.
func (r *Registry) All() []plugin.Plugin {
	names := r.enabledOrder()
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]plugin.Plugin, 0, len(names))
	for _, name := range names {
		result = append(result, r.plugins[name])
	}
	return result
}

// AllRoutes returns the routes of every enabled plugin implementing HTTPProvider.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	routes := make(map[string][]plugin.Route)
	for _, p := range r.All() {
		hp, ok := p.(plugin.HTTPProvider)
		if !ok {
			continue
		}
		if pr := hp.Routes(); len(pr) > 0 {
			routes[p.Info().Name] = pr
		}
	}
	return routes
}

func (r *Registry) enabledOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.regOrder
	if r.validated {
		src = r.order
	}
	out := make([]string, 0, len(src))
	for _, name := range src {
		if _, off := r.disabled[name]; !off {
			out = append(out, name)
		}
	}
	return out
}
