// Package reload watches the configuration file for changes and
// reconciles the live registry against whatever the file says now:
// groups that disappeared are closed and removed, groups that are new
// are connected and added, and groups whose spec changed are replaced
// outright rather than patched in place.
package reload

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/group"
	"github.com/dynamic-mcp/gateway/internal/oauth"
	"github.com/dynamic-mcp/gateway/internal/registry"
	"github.com/dynamic-mcp/gateway/internal/transport"
)

// debounce absorbs the burst of write events one save often produces
// (truncate + write + chmod from an editor's atomic-save dance) before
// reconciling, matching the teacher's fixed-delay debounce.
const debounce = 500 * time.Millisecond

// Controller watches configPath and keeps registry in sync with it.
type Controller struct {
	configPath string
	registry   *registry.Registry
	tokens     *oauth.Manager
	logger     *zap.Logger

	watcher *fsnotify.Watcher
	changed chan struct{}
	done    chan struct{}

	specs map[string]*config.ServerSpec
}

// NewController starts watching configPath. Call Reconcile once before
// Run to perform the initial load.
func NewController(configPath string, reg *registry.Registry, tokens *oauth.Manager, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: create watcher: %w", err)
	}
	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("reload: watch %q: %w", configPath, err)
	}
	return &Controller{
		configPath: configPath,
		registry:   reg,
		tokens:     tokens,
		logger:     logger,
		watcher:    watcher,
		changed:    make(chan struct{}, 100),
		done:       make(chan struct{}),
		specs:      make(map[string]*config.ServerSpec),
	}, nil
}

// Close stops watching the config file. It does not touch the
// registry's groups.
func (c *Controller) Close() error {
	return c.watcher.Close()
}

// Run drives the watch loop until ctx is done or the watcher's event
// channel closes. It's meant to run in its own goroutine.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			c.signal()

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("config file watcher error", zap.Error(err))

		case <-c.changed:
			c.debounceAndReconcile(ctx)

		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) signal() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Controller) debounceAndReconcile(ctx context.Context) {
	timer := time.NewTimer(debounce)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}
	// Drain anything that piled up during the debounce window; one
	// reconcile pass covers all of it.
	for {
		select {
		case <-c.changed:
			continue
		default:
		}
		break
	}
	if err := c.Reconcile(ctx); err != nil {
		c.logger.Error("failed to reload configuration", zap.Error(err))
		return
	}
	c.logger.Info("configuration reloaded successfully")
}

// Reconcile loads configPath and applies whatever changed to
// registry: new groups are connected, vanished groups are closed and
// removed, and groups whose spec changed are replaced. New and replaced
// groups connect concurrently, and Reconcile returns once every one of
// them is Ready or Failed. It is safe to call directly for the initial
// load before Run starts.
func (c *Controller) Reconcile(ctx context.Context) error {
	cfg, err := config.Load(c.logger, c.configPath)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	toRemove, toAdd, toReplace := diff(c.specs, cfg.Servers)

	for _, name := range toRemove {
		c.removeGroup(name)
	}
	for _, name := range toReplace {
		c.removeGroup(name)
	}

	var connects errgroup.Group
	for name, spec := range cfg.Servers {
		if !contains(toAdd, name) && !contains(toReplace, name) {
			continue
		}
		if !spec.Enabled {
			c.specs[name] = spec
			continue
		}
		connects.Go(func() error {
			if err := c.addGroup(ctx, name, spec); err != nil {
				c.logger.Error("failed to connect group after reload", zap.String("group", name), zap.Error(err))
			}
			return nil
		})
	}
	_ = connects.Wait()

	c.specs = cfg.Servers
	if len(toRemove) > 0 || len(toAdd) > 0 || len(toReplace) > 0 {
		c.logger.Info("reconciled configuration",
			zap.Strings("removed", toRemove),
			zap.Strings("added", toAdd),
			zap.Strings("replaced", toReplace))
	}
	return nil
}

func (c *Controller) addGroup(ctx context.Context, name string, spec *config.ServerSpec) error {
	var tokenSource transport.BearerTokenSource
	if spec.OAuthClientID != "" {
		c.tokens.Register(name, spec)
		tokenSource = c.tokens
	}
	tr, err := transport.New(name, spec, tokenSource)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	g := group.New(name, spec, tr, c.logger)
	c.registry.Upsert(g)
	if err := g.Connect(ctx); err != nil {
		c.logger.Warn("group failed to connect", zap.String("group", name), zap.Error(err))
	}
	return nil
}

func (c *Controller) removeGroup(name string) {
	g := c.registry.Remove(name)
	c.tokens.Forget(name)
	if g == nil {
		return
	}
	if err := g.Close(); err != nil {
		c.logger.Warn("error closing removed group", zap.String("group", name), zap.Error(err))
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// diff computes which group names were dropped, added, or changed
// between the previously applied spec set and the newly loaded one. A
// changed spec is reported as a replace, never a patch: the simplest
// correct behavior, and the one the spec's own state machine models
// (Connecting/Ready/Failed/Closing/Closed has no "reconfigure in
// place" transition).
func diff(oldSpecs, newSpecs map[string]*config.ServerSpec) (toRemove, toAdd, toReplace []string) {
	for name := range oldSpecs {
		if _, ok := newSpecs[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	for name, spec := range newSpecs {
		old, ok := oldSpecs[name]
		if !ok {
			toAdd = append(toAdd, name)
			continue
		}
		if !reflect.DeepEqual(old, spec) {
			toReplace = append(toReplace, name)
		}
	}
	return toRemove, toAdd, toReplace
}
