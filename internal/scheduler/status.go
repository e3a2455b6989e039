package scheduler

import (
	"time"

	"github.com/VenkatGGG/gpu-reserve/internal/monitor"
	"github.com/VenkatGGG/gpu-reserve/internal/notify"
	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
)

// Status is what one cycle published. It never carries holder credentials.
type Status struct {
	At      time.Time
	Active  *reservation.Request
	Pending []reservation.Request

	Sample  monitor.Sample
	Sampled bool

	IdleCount          int
	LowEfficiencyCount int

	NotifyInterval time.Duration
	LastNotified   time.Time
	Delivered      []notify.Kind
}

func (s *Scheduler) publish(now time.Time, sample monitor.Sample, sampled bool) {
	if s.sink == nil {
		return
	}
	status := Status{
		At:             now,
		Pending:        reservation.Rank(s.state.Pending),
		Sample:         sample,
		Sampled:        sampled,
		NotifyInterval: s.backoff.Interval(),
		Delivered:      append([]notify.Kind(nil), s.delivered...),
	}
	if s.state.Active != nil {
		active := *s.state.Active
		status.Active = &active
	}
	status.IdleCount, status.LowEfficiencyCount = s.detector.Counts()
	if last, ok := s.backoff.LastNotified(); ok {
		status.LastNotified = last
	}
	s.sink.Publish(status)
}
