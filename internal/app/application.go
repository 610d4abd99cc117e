package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/savings_layer/internal/app/services/savings"
	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/app/storage/memory"
	"github.com/R3E-Network/savings_layer/internal/app/system"
	"github.com/R3E-Network/savings_layer/internal/ledger"
	"github.com/R3E-Network/savings_layer/pkg/logger"
)

// Options tunes the composed services. Zero values use the package defaults.
type Options struct {
	DefaultTvlCap  uint64
	ReportSchedule string
	// DisableReporter skips registering the treasury gauge reporter.
	DisableReporter bool
}

// Application ties the savings service to its store and manages the
// lifecycle of background services.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store    storage.Store
	Savings  *savings.Service
	Reporter *savings.TreasuryReporter
}

// New builds an application over store. A nil store defaults to the
// in-memory implementation.
func New(store storage.Store, log *logger.Logger, opts Options) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if store == nil {
		log.Warn("no persistent store configured; using in-memory ledger")
		store = memory.New()
	}
	if opts.DefaultTvlCap == 0 {
		opts.DefaultTvlCap = ledger.DefaultTvlCap
	}

	svc := savings.New(store, log.Named("savings"), savings.WithDefaultTvlCap(opts.DefaultTvlCap))

	manager := system.NewManager()
	if err := manager.Register(system.NoopService{ServiceName: "ledger"}); err != nil {
		return nil, fmt.Errorf("register ledger service: %w", err)
	}

	application := &Application{
		manager: manager,
		log:     log,
		Store:   store,
		Savings: svc,
	}
	if !opts.DisableReporter {
		application.Reporter = savings.NewTreasuryReporter(svc, opts.ReportSchedule, log.Named("treasury-reporter"))
		if err := manager.Register(application.Reporter); err != nil {
			return nil, fmt.Errorf("register %s: %w", application.Reporter.Name(), err)
		}
	}
	return application, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	if service == nil {
		return errors.New("app: nil service")
	}
	return a.manager.Register(service)
}

// Services lists the registered service names in start order.
func (a *Application) Services() []string {
	services := a.manager.Services()
	names := make([]string, 0, len(services))
	for _, svc := range services {
		names = append(names, svc.Name())
	}
	return names
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
