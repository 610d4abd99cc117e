package savings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/R3E-Network/savings_layer/internal/app/metrics"
	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/app/system"
	"github.com/R3E-Network/savings_layer/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultReportSchedule refreshes treasury gauges once a minute.
const DefaultReportSchedule = "@every 1m"

// TreasuryReporter periodically exports the treasury singleton as metrics.
type TreasuryReporter struct {
	service  *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*TreasuryReporter)(nil)

// NewTreasuryReporter creates a reporter. An empty schedule uses
// DefaultReportSchedule.
func NewTreasuryReporter(service *Service, schedule string, log *logger.Logger) *TreasuryReporter {
	if log == nil {
		log = logger.NewDefault("treasury-reporter")
	}
	if schedule == "" {
		schedule = DefaultReportSchedule
	}
	return &TreasuryReporter{service: service, schedule: schedule, log: log}
}

func (r *TreasuryReporter) Name() string { return "treasury-reporter" }

func (r *TreasuryReporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.Report(context.Background()) }); err != nil {
		return fmt.Errorf("schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.running = true
	r.Report(ctx)
	r.log.Infof("treasury reporter started with schedule %s", r.schedule)
	return nil
}

func (r *TreasuryReporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Report reads the treasury and refreshes the gauges. A missing treasury is
// not an error.
func (r *TreasuryReporter) Report(ctx context.Context) {
	treasury, err := r.service.GetTreasury(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		r.log.Debug("treasury not initialized; skipping report")
		return
	}
	if err != nil {
		r.log.WithError(err).Warn("read treasury for report")
		return
	}
	metrics.SetTreasury(metrics.TreasurySnapshot{
		TotalTvl:           treasury.Config.TotalTvl,
		TvlCap:             treasury.Config.TvlCap,
		TotalFeesCollected: treasury.Config.TotalFeesCollected,
		VaultBalance:       treasury.Vault.Balance,
		Paused:             treasury.Config.IsPaused,
	})
}
