package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/window"
)

// ServiceFactory assists tests with constructing application services over an
// in-memory store using deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Store       *MemoryStore
	Remote      *FrequencyRemote
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults. The store starts
// with the default registration config installed.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("slot")
	}
	if factory.Store == nil {
		factory.Store = NewMemoryStore(factory.Clock, factory.IDGenerator)
		factory.Store.SetConfig(NewRegistrationConfig())
	}
	if factory.Remote == nil {
		factory.Remote = NewFrequencyRemote()
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithConfig installs cfg in the factory store.
func WithConfig(cfg *application.RegistrationConfig) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if factory.Clock == nil {
			factory.Clock = NewClock(time.Time{})
		}
		if factory.IDGenerator == nil {
			factory.IDGenerator = NewIDGenerator("slot")
		}
		if factory.Store == nil {
			factory.Store = NewMemoryStore(factory.Clock, factory.IDGenerator)
		}
		factory.Store.SetConfig(cfg)
	}
}

// AdmissionServiceDeps captures dependencies for constructing an admission service.
type AdmissionServiceDeps struct {
	Mode    window.Mode
	Options application.AdmissionOptions
	Now     func() time.Time
	Logger  *slog.Logger
}

// NewAdmissionService builds an admission service over the factory store.
func (f *ServiceFactory) NewAdmissionService(deps AdmissionServiceDeps) *application.AdmissionService {
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	mode := deps.Mode
	if mode == "" {
		mode = window.ModeDaily
	}
	return application.NewAdmissionServiceWithLogger(
		f.Store,
		f.Store,
		window.NewResolver(window.ReferenceLocation(), mode),
		deps.Options,
		now,
		deps.Logger,
	)
}

// ThrottleDeps captures dependencies for constructing a frequency throttle.
type ThrottleDeps struct {
	Options application.ThrottleOptions
	Now     func() time.Time
	Logger  *slog.Logger
}

// NewFrequencyThrottle builds a throttle over the factory remote.
func (f *ServiceFactory) NewFrequencyThrottle(deps ThrottleDeps) *application.FrequencyThrottle {
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	return application.NewFrequencyThrottleWithLogger(f.Remote, deps.Options, now, deps.Logger)
}

// SlotServiceDeps captures dependencies for constructing a slot service. Nil
// collaborators are built from the factory defaults.
type SlotServiceDeps struct {
	Admission *application.AdmissionService
	Throttle  *application.FrequencyThrottle
	Options   application.SlotServiceOptions
	Now       func() time.Time
	Logger    *slog.Logger
}

// NewSlotService builds a slot service over the factory store.
func (f *ServiceFactory) NewSlotService(deps SlotServiceDeps) *application.SlotService {
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	admission := deps.Admission
	if admission == nil {
		admission = f.NewAdmissionService(AdmissionServiceDeps{Now: now, Logger: deps.Logger})
	}
	throttle := deps.Throttle
	if throttle == nil {
		throttle = f.NewFrequencyThrottle(ThrottleDeps{Now: now, Logger: deps.Logger})
	}
	return application.NewSlotServiceWithLogger(
		f.Store,
		admission,
		throttle,
		deps.Options,
		now,
		deps.Logger,
	)
}
