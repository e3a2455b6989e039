package api

import (
	"time"

	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
	"github.com/VenkatGGG/gpu-reserve/internal/scheduler"
)

type ReservationView struct {
	Email         string    `json:"email"`
	Urgent        bool      `json:"urgent"`
	SubmittedAt   time.Time `json:"submitted_at"`
	TargetAt      time.Time `json:"target_at"`
	WithinHorizon bool      `json:"within_horizon"`
}

type GPUView struct {
	Sampled            bool   `json:"sampled"`
	UsedMiB            uint64 `json:"used_mib"`
	TotalMiB           uint64 `json:"total_mib"`
	UtilizationPercent uint32 `json:"utilization_percent"`
}

type StatusView struct {
	At                    time.Time         `json:"at"`
	Active                *ReservationView  `json:"active"`
	Pending               []ReservationView `json:"pending"`
	GPU                   GPUView           `json:"gpu"`
	IdleCount             int               `json:"idle_count"`
	LowEfficiencyCount    int               `json:"low_efficiency_count"`
	NotifyIntervalSeconds float64           `json:"notify_interval_seconds"`
	LastNotified          *time.Time        `json:"last_notified,omitempty"`
}

func NewStatusView(status scheduler.Status) StatusView {
	view := StatusView{
		At:      status.At,
		Pending: make([]ReservationView, 0, len(status.Pending)),
		GPU: GPUView{
			Sampled:            status.Sampled,
			UsedMiB:            status.Sample.UsedMiB,
			TotalMiB:           status.Sample.TotalMiB,
			UtilizationPercent: status.Sample.UtilizationPercent,
		},
		IdleCount:             status.IdleCount,
		LowEfficiencyCount:    status.LowEfficiencyCount,
		NotifyIntervalSeconds: status.NotifyInterval.Seconds(),
	}
	if status.Active != nil {
		active := reservationView(*status.Active, status.At)
		view.Active = &active
	}
	for _, req := range status.Pending {
		view.Pending = append(view.Pending, reservationView(req, status.At))
	}
	if !status.LastNotified.IsZero() {
		last := status.LastNotified
		view.LastNotified = &last
	}
	return view
}

func reservationView(req reservation.Request, now time.Time) ReservationView {
	return ReservationView{
		Email:         req.Email,
		Urgent:        req.Urgent,
		SubmittedAt:   req.SubmittedAt,
		TargetAt:      req.TargetAt,
		WithinHorizon: req.TargetAt.Sub(now) <= reservation.Horizon,
	}
}
