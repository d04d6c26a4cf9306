package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Location    *time.Location
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Location:    Paris(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Location == nil {
		factory.Location = Paris()
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

// Engine returns a scheduler engine bound to the factory's zone and ids.
func (f *ServiceFactory) Engine() *scheduler.Engine {
	return scheduler.NewEngine(f.Location, f.IDGenerator.NextFunc())
}

// EventServiceDeps captures dependencies for constructing an event service.
type EventServiceDeps struct {
	Events   persistence.EventRepository
	Locker   application.EventLocker
	Notifier application.Notifier
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewEventService builds an event service using the supplied dependencies
// combined with the factory defaults.
func (f *ServiceFactory) NewEventService(deps EventServiceDeps) *application.EventService {
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return application.NewEventServiceWithLogger(deps.Events, f.Engine(), deps.Locker, deps.Notifier, now, logger)
}

// RetentionServiceDeps captures dependencies for constructing a retention service.
type RetentionServiceDeps struct {
	Store       persistence.SlotRetentionStore
	DefaultDays int
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewRetentionService builds a retention service using the factory clock.
func (f *ServiceFactory) NewRetentionService(deps RetentionServiceDeps) *application.RetentionService {
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return application.NewRetentionService(deps.Store, deps.DefaultDays, now, logger)
}
