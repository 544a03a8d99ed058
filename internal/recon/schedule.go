package recon

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/pkg/models"
)

// ScheduledScan is one entry of plugins.recon.schedules.
type ScheduledScan struct {
	Name       string   `mapstructure:"name"`
	Spec       string   `mapstructure:"spec"` // standard 5-field cron expression
	Start      string   `mapstructure:"start"`
	End        string   `mapstructure:"end"`
	Protocols  []string `mapstructure:"protocols"`
	FacilityID string   `mapstructure:"facility_id"`
}

// Request converts the entry to a DiscoverRequest. The range is validated
// again by the orchestrator.
func (s ScheduledScan) Request() DiscoverRequest {
	req := DiscoverRequest{Start: s.Start, End: s.End, FacilityID: s.FacilityID}
	for _, p := range s.Protocols {
		if kind, ok := models.ParseProtocolKind(p); ok {
			req.Protocols = append(req.Protocols, kind)
		}
	}
	return req
}

// ScanRunner executes one discovery. trigger is recorded in scan history.
type ScanRunner func(ctx context.Context, req DiscoverRequest, trigger string)

// Scheduler runs discovery on cron schedules. A run is skipped while the
// previous run of the same entry is still in progress.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler validates entries and registers them. An invalid cron
// expression or address range fails the whole set.
func NewScheduler(entries []ScheduledScan, run ScanRunner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{logger: logger}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))

	for i, e := range entries {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("schedule-%d", i+1)
		}
		if _, err := cron.ParseStandard(e.Spec); err != nil {
			return nil, fmt.Errorf("schedule %s: spec %q: %w", name, e.Spec, err)
		}
		if _, err := ParseRange(e.Start, e.End); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
		req := e.Request()
		if _, err := s.cron.AddFunc(e.Spec, func() {
			s.logger.Info("scheduled scan", zap.String("schedule", name), zap.String("start", req.Start), zap.String("end", req.End))
			run(s.runContext(), req, "schedule:"+name)
		}); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	return s, nil
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Start begins firing schedules. Runs are cancelled when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the scheduler, cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-done.Done()
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
