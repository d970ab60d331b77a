package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/hnode2-datasink/internal/devconfig"
)

// State is the position of a Lifecycle in its state machine.
type State int32

const (
	// StateUnchecked means Ensure has not run.
	StateUnchecked State = iota

	// StateInitialized means a configuration is known to be stored.
	StateInitialized

	// StateLoaded means the configuration was loaded and accepted.
	StateLoaded

	// StateFailed means Ensure failed. It is terminal.
	StateFailed
)

// String returns the lower-case state name used in logs and device info.
func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateInitialized:
		return "initialized"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sections is implemented by the device framework. InitConfigSections
// fills the default sections of a fresh configuration; ReadConfigSections
// accepts a loaded or updated configuration and applies it.
// ValidateConfigSections runs the same checks as ReadConfigSections but
// must not apply anything.
type Sections interface {
	InitConfigSections(cfg *devconfig.Config) error
	ValidateConfigSections(cfg *devconfig.Config) error
	ReadConfigSections(cfg *devconfig.Config) error
}

// Logger defines the logging interface used by the Lifecycle.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeFunc is called after every successful Update with the new snapshot.
type ChangeFunc func(ctx context.Context, cfg *devconfig.Config)

// Lifecycle drives the configuration of one device instance.
type Lifecycle struct {
	store      devconfig.Store
	deviceType string
	instance   string
	sections   Sections
	logger     Logger
	onChange   ChangeFunc

	mu      sync.Mutex // Serialises Ensure and Update
	failErr error      // Set once when entering StateFailed

	state    atomic.Int32
	snapshot atomic.Pointer[devconfig.Config]
}

// New creates a Lifecycle in StateUnchecked.
func New(store devconfig.Store, deviceType, instance string, sections Sections) *Lifecycle {
	return &Lifecycle{
		store:      store,
		deviceType: deviceType,
		instance:   instance,
		sections:   sections,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the lifecycle.
func (l *Lifecycle) SetLogger(logger Logger) {
	l.logger = logger
}

// OnChange registers fn to run after each successful Update.
// Must be called before Ensure.
func (l *Lifecycle) OnChange(fn ChangeFunc) {
	l.onChange = fn
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Snapshot returns a deep copy of the current configuration, or nil
// before the configuration is loaded.
func (l *Lifecycle) Snapshot() *devconfig.Config {
	return l.snapshot.Load().Clone()
}

// Ensure brings the lifecycle to StateLoaded.
//
// On first run (no stored configuration) the default sections are written
// before loading. A failed write, a failed load, or a rejected
// configuration moves the lifecycle to StateFailed; Save is never called
// after a failed load.
//
// Returns:
//   - nil: when Loaded (including repeated calls)
//   - error wrapping ErrStartup: on failure, and on every call after one
func (l *Lifecycle) Ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case StateLoaded:
		return nil
	case StateFailed:
		return l.failErr
	}

	if !l.store.Exists(ctx, l.deviceType, l.instance) {
		l.logger.Info("no stored configuration, writing defaults",
			"device_type", l.deviceType, "instance", l.instance)

		cfg := devconfig.New()
		if err := l.sections.InitConfigSections(cfg); err != nil {
			return l.fail(fmt.Errorf("initialising config sections: %w", err))
		}
		if err := l.store.Save(ctx, l.deviceType, l.instance, cfg); err != nil {
			return l.fail(fmt.Errorf("saving default config: %w", err))
		}
	}
	l.state.Store(int32(StateInitialized))

	cfg, err := l.store.Load(ctx, l.deviceType, l.instance)
	if err != nil {
		return l.fail(fmt.Errorf("loading config: %w", err))
	}
	if err := l.sections.ReadConfigSections(cfg); err != nil {
		return l.fail(fmt.Errorf("reading config sections: %w", err))
	}

	l.snapshot.Store(cfg)
	l.state.Store(int32(StateLoaded))
	l.logger.Info("configuration loaded",
		"device_type", l.deviceType, "instance", l.instance, "sections", len(cfg.Sections))
	return nil
}

// fail records err and enters StateFailed. Caller holds l.mu.
func (l *Lifecycle) fail(err error) error {
	l.failErr = fmt.Errorf("%w: %w", ErrStartup, err)
	l.state.Store(int32(StateFailed))
	l.logger.Error("configuration startup failed",
		"device_type", l.deviceType, "instance", l.instance, "error", err)
	return l.failErr
}

// Update replaces the configuration.
//
// The new configuration is validated by the device framework before it is
// written, and applied only once the write succeeds. Until then readers of
// both the snapshot and the framework keep seeing the previous one.
//
// Returns:
//   - ErrNotLoaded: if Ensure has not completed successfully
//   - error wrapping ErrRejected: if the configuration is invalid
//   - store error: if the write fails
func (l *Lifecycle) Update(ctx context.Context, cfg *devconfig.Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() != StateLoaded {
		return ErrNotLoaded
	}

	next := cfg.Clone()
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if err := l.sections.ValidateConfigSections(next); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}

	if err := l.store.Save(ctx, l.deviceType, l.instance, next); err != nil {
		l.logger.Error("saving updated config", "error", err)
		return fmt.Errorf("saving config: %w", err)
	}

	l.snapshot.Store(next)
	if err := l.sections.ReadConfigSections(next); err != nil {
		l.logger.Error("applying saved config sections", "error", err)
	}
	l.logger.Info("configuration updated", "sections", len(next.Sections))

	if l.onChange != nil {
		l.onChange(ctx, next.Clone())
	}
	return nil
}
