package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/VenkatGGG/gpu-reserve/internal/lease"
	"github.com/VenkatGGG/gpu-reserve/internal/monitor"
	"github.com/VenkatGGG/gpu-reserve/internal/notify"
	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
	"github.com/VenkatGGG/gpu-reserve/internal/store"
)

const DefaultTickInterval = time.Second

// Source hands over every request received since the previous call.
type Source interface {
	Drain() []reservation.Request
}

// Leaser keeps this process the only resident scheduler for the host.
type Leaser interface {
	Acquire(ctx context.Context) error
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

type StatusSink interface {
	Publish(Status)
}

type Config struct {
	TickInterval           time.Duration
	IdleThreshold          int
	LowEfficiencyThreshold int
	Backoff                notify.BackoffConfig
	// Credentials from the command line replace whatever the snapshot held.
	Credentials reservation.Credentials
}

type Deps struct {
	Source  Source
	Sampler monitor.Sampler
	Mailer  notify.Mailer
	Store   store.Store
	Lease   Leaser
	Sink    StatusSink
	Logger  *zap.Logger
}

// Scheduler runs the reservation tick loop. State, detector and backoff are
// touched only from the goroutine calling Run or Cycle.
type Scheduler struct {
	cfg     Config
	source  Source
	sampler monitor.Sampler
	mailer  notify.Mailer
	store   store.Store
	lease   Leaser
	sink    StatusSink
	logger  *zap.Logger
	now     func() time.Time

	state     *reservation.State
	detector  *monitor.Detector
	backoff   *notify.Backoff
	delivered []notify.Kind
}

func New(cfg Config, deps Deps, initial *reservation.State) (*Scheduler, error) {
	if deps.Source == nil {
		return nil, errors.New("scheduler requires a request source")
	}
	if deps.Sampler == nil {
		return nil, errors.New("scheduler requires a sampler")
	}
	if deps.Mailer == nil {
		return nil, errors.New("scheduler requires a mailer")
	}
	if deps.Store == nil {
		return nil, errors.New("scheduler requires a store")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if initial == nil {
		initial = reservation.NewState()
	}
	if cfg.Credentials.Account != "" {
		initial.Holder = cfg.Credentials
	}

	return &Scheduler{
		cfg:      cfg,
		source:   deps.Source,
		sampler:  deps.Sampler,
		mailer:   deps.Mailer,
		store:    deps.Store,
		lease:    deps.Lease,
		sink:     deps.Sink,
		logger:   deps.Logger,
		now:      time.Now,
		state:    initial,
		detector: monitor.NewDetector(cfg.IdleThreshold, cfg.LowEfficiencyThreshold),
		backoff:  notify.NewBackoff(cfg.Backoff),
	}, nil
}

// Run ticks until a shutdown sentinel is merged, ctx is cancelled, or a fatal
// error occurs. The sentinel and cancellation both return nil.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.lease != nil {
		if err := s.lease.Acquire(ctx); err != nil {
			return err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.lease.Release(releaseCtx); err != nil {
				s.logger.Warn("release scheduler lease", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("tick", s.cfg.TickInterval),
		zap.Int("pending", len(s.state.Pending)),
		zap.String("holder_account", s.state.Holder.Account))

	for {
		select {
		case <-ctx.Done():
			return s.interrupted()
		case <-ticker.C:
			stop, err := s.Cycle(ctx)
			if err != nil && ctx.Err() != nil {
				return s.interrupted()
			}
			if err != nil {
				s.logger.Error("scheduler stopped", zap.Error(err))
				return err
			}
			if stop {
				s.logger.Info("shutdown requested, scheduler stopped")
				return nil
			}
		}
	}
}

func (s *Scheduler) interrupted() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.persist(ctx)
	s.logger.Info("scheduler interrupted", zap.Error(err))
	return err
}

// Cycle performs one tick and reports whether a shutdown sentinel was seen.
func (s *Scheduler) Cycle(ctx context.Context) (bool, error) {
	now := s.now()
	s.delivered = s.delivered[:0]

	if s.lease != nil {
		if err := s.lease.Renew(ctx); err != nil {
			if errors.Is(err, lease.ErrLeaseLost) {
				return false, err
			}
			s.logger.Warn("renew scheduler lease", zap.Error(err))
		}
	}

	stop := s.merge(ctx, s.source.Drain())

	if s.state.Update(now) {
		s.backoff.Reset()
		if s.state.Active != nil {
			s.logger.Info("holder selected",
				zap.String("email", s.state.Active.Email),
				zap.Bool("urgent", s.state.Active.Urgent),
				zap.Time("target", s.state.Active.TargetAt))
		}
	}

	var (
		sample  monitor.Sample
		sampled bool
	)
	if !stop {
		reading, err := s.sampler.Sample(ctx)
		if err != nil {
			if saveErr := s.persist(ctx); saveErr != nil {
				s.logger.Error("persist before exit", zap.Error(saveErr))
			}
			return false, fmt.Errorf("sample gpu: %w", err)
		}
		sample, sampled = reading, true
		s.checkHolder(ctx, now, s.detector.Observe(reading))
	}

	s.publish(now, sample, sampled)
	return stop, s.persist(ctx)
}

// merge applies a drained batch in arrival order. Requests after a shutdown
// sentinel are discarded.
func (s *Scheduler) merge(ctx context.Context, batch []reservation.Request) bool {
	for i, req := range batch {
		if req.IsShutdown() {
			if dropped := len(batch) - i - 1; dropped > 0 {
				s.logger.Warn("requests after shutdown discarded", zap.Int("count", dropped))
			}
			return true
		}
		s.state.Upsert(req)
		msg := notify.Created(req.Email)
		if req.Finished {
			msg = notify.Released(req.Email)
		}
		s.deliver(ctx, req.Email, msg)
	}
	return false
}

// checkHolder sends at most one idle or low-efficiency notice per cycle. Idle
// wins when both edges fire together.
func (s *Scheduler) checkHolder(ctx context.Context, now time.Time, class monitor.Classification) {
	if !class.Idle && !class.LowEfficiency {
		return
	}
	holder := s.state.Active
	if !s.backoff.Eligible(now, holder != nil) {
		return
	}
	msg := notify.LowEfficiency(holder.Email)
	if class.Idle {
		msg = notify.Idle(holder.Email)
	}
	s.deliver(ctx, holder.Email, msg)
	s.backoff.Fired(now)
	s.logger.Debug("holder notified",
		zap.String("email", holder.Email),
		zap.String("kind", string(msg.Kind)),
		zap.Duration("next_interval", s.backoff.Interval()))
}

func (s *Scheduler) deliver(ctx context.Context, to string, msg notify.Message) {
	if err := notify.Deliver(ctx, s.mailer, to, msg); err != nil {
		s.logger.Warn("notification undeliverable",
			zap.String("to", to),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err))
		return
	}
	s.delivered = append(s.delivered, msg.Kind)
}

func (s *Scheduler) persist(ctx context.Context) error {
	if err := s.store.Save(ctx, s.state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Scheduler) Snapshot() *reservation.State {
	return s.state.Clone()
}
