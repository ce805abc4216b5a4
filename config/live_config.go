package config

import (
	"sync"
	"time"
)

// Observer is notified after every accepted config change.
type Observer interface {
	OnConfigUpdate(cfg *Config)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(cfg *Config)

func (f ObserverFunc) OnConfigUpdate(cfg *Config) { f(cfg) }

// LiveConfig is a thread-safe holder for the runtime-tunable config.
// The runner reads scan settings from it at the start of each cycle, so
// updates take effect on the next scan without a restart.
type LiveConfig struct {
	mu          sync.RWMutex
	config      *Config
	lastUpdated time.Time

	obsMu     sync.RWMutex
	observers []Observer
}

// NewLiveConfig creates a LiveConfig holding a copy of initial.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Update validates and installs newConfig, then notifies observers.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	cloned := newConfig.Clone()

	lc.mu.Lock()
	lc.config = cloned
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Outside the lock so observers may call Get.
	lc.notifyObservers(cloned)
	return nil
}

// UpdatePartial applies updateFn to a copy of the current config and
// installs the result if it validates.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	next := lc.Get()
	updateFn(next)
	return lc.Update(next)
}

// AddObserver registers an observer.
func (lc *LiveConfig) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]Observer, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// LastUpdated returns when the config was last updated.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
