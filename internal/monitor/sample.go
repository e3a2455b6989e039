package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSamplerUnavailable marks a reading that could not be taken at all. The
// scheduler cannot make safe decisions without utilization data, so callers
// treat it as fatal.
var ErrSamplerUnavailable = errors.New("gpu utilization sampler unavailable")

// Sample is a point-in-time reading of the device.
type Sample struct {
	UsedMiB            uint64
	TotalMiB           uint64
	UtilizationPercent uint32
}

// MemoryRatio is used/total, or 0 for a device that reports no memory.
func (s Sample) MemoryRatio() float64 {
	if s.TotalMiB == 0 {
		return 0
	}
	return float64(s.UsedMiB) / float64(s.TotalMiB)
}

type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// NewSampler builds the sampler named by kind: "smi" (default) or "nvml".
func NewSampler(kind, smiPath string) (Sampler, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "smi", "nvidia-smi":
		return NewSMISampler(smiPath), nil
	case "nvml":
		return NewNVMLSampler(0), nil
	default:
		return nil, fmt.Errorf("unknown sampler %q", kind)
	}
}
