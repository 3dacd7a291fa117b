package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/resolve"
	"github.com/c360/docfeed/sink"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
	"github.com/c360/docfeed/watch"
)

// Overrides is the decoded overrides document: a partial Config as a JSON object.
type Overrides = map[string]any

// Manager keeps a SafeConfig in sync with an overrides document. The document
// is watched like any other; every version of it is merged over the base
// configuration, validated and published to OnChange listeners. A deleted
// document restores the base configuration. An override that fails validation is
// logged and ignored.
type Manager struct {
	base   *Config
	config *SafeConfig
	src    source.Source
	ref    source.ItemRef
	logger *slog.Logger

	overrides *sink.Store[state.ItemState[Overrides]]
	published *sink.Store[*Config]

	mu      sync.Mutex
	w       *watch.ItemWatch[Overrides]
	syn     *sink.Synchronizer[state.ItemState[Overrides]]
	remove  func()
	stopped bool
}

// NewConfigManager creates a manager for the overrides document at ref.
func NewConfigManager(cfg *Config, src source.Source, ref source.ItemRef, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "New", "config cannot be nil")
	}
	if src == nil || ref == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "New", "source and ref are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := cfg.Clone()
	return &Manager{
		base:      base,
		config:    NewSafeConfig(base.Clone()),
		src:       src,
		ref:       ref,
		logger:    logger.With("component", "config", "overrides", ref.Path()),
		overrides: sink.NewStore(state.DisabledItem[Overrides]()),
		published: sink.NewStore(base.Clone()),
	}, nil
}

// GetConfig returns the current configuration
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange calls fn with a copy of every configuration that replaces the
// current one. The returned function removes fn.
func (cm *Manager) OnChange(fn func(*Config)) (remove func()) {
	return cm.published.OnChange(fn)
}

// Start opens the watch and waits up to timeout for the first version of the
// document. Not reaching it is logged; the base configuration stays in effect
// until the document arrives.
func (cm *Manager) Start(ctx context.Context, timeout time.Duration) error {
	cm.mu.Lock()
	if cm.stopped {
		cm.mu.Unlock()
		return errors.WrapFatal(errors.ErrFeedClosed, "Manager", "Start", "start stopped manager")
	}
	if cm.w != nil {
		cm.mu.Unlock()
		return nil
	}
	cm.remove = cm.overrides.OnChange(cm.apply)
	cm.w = watch.WatchItem(cm.src, cm.ref, decodeOverrides, state.Listener[state.ItemState[Overrides]]{},
		watch.WithLogger(cm.logger))
	cm.syn = sink.Attach(cm.w.Feed(), sink.Sink[state.ItemState[Overrides]](cm.overrides))
	f := cm.w.Feed()
	cm.mu.Unlock()

	if _, err := resolve.First(ctx, f, timeout, nil); err != nil {
		cm.logger.Warn("Configuration overrides not loaded, using base configuration", "error", err)
	}
	return nil
}

// Stop closes the watch. The configuration keeps its last value. Stop is
// idempotent.
func (cm *Manager) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.stopped {
		return
	}
	cm.stopped = true

	if cm.syn != nil {
		cm.syn.Detach()
		cm.w.Close()
	}
	if cm.remove != nil {
		cm.remove()
	}
}

func (cm *Manager) apply(st state.ItemState[Overrides]) {
	switch st.Status {
	case state.StatusError:
		cm.logger.Warn("Configuration overrides unavailable, keeping current configuration")
		return
	case state.StatusResolved:
	default:
		return
	}

	next := cm.base.Clone()
	if st.Exists {
		merged, err := Merge(cm.base, st.Data)
		if err != nil {
			cm.logger.Warn("Configuration overrides could not be merged", "error", err)
			return
		}
		next = merged
	}

	if err := cm.config.Update(next); err != nil {
		cm.logger.Warn("Configuration overrides rejected", "error", err)
		return
	}
	cm.logger.Info("Configuration updated", "overridden", st.Exists)
	cm.published.Write(next.Clone())
}

func decodeOverrides(body []byte) (Overrides, error) {
	if err := validateJSONDepth(body); err != nil {
		return nil, err
	}
	var raw Overrides
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}
