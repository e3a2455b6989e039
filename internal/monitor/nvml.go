package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const mebibyte = 1 << 20

// NVMLSampler reads one device through the NVIDIA Management Library instead of
// scraping nvidia-smi. The library is initialised lazily on the first sample.
type NVMLSampler struct {
	index int

	once    sync.Once
	initErr error
	device  nvml.Device
}

func NewNVMLSampler(index int) *NVMLSampler {
	if index < 0 {
		index = 0
	}
	return &NVMLSampler{index: index}
}

func (s *NVMLSampler) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	s.once.Do(s.init)
	if s.initErr != nil {
		return Sample{}, s.initErr
	}

	memory, ret := s.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return Sample{}, fmt.Errorf("%w: get memory info: %v", ErrSamplerUnavailable, nvml.ErrorString(ret))
	}
	rates, ret := s.device.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return Sample{}, fmt.Errorf("%w: get utilization rates: %v", ErrSamplerUnavailable, nvml.ErrorString(ret))
	}

	return Sample{
		UsedMiB:            memory.Used / mebibyte,
		TotalMiB:           memory.Total / mebibyte,
		UtilizationPercent: rates.Gpu,
	}, nil
}

func (s *NVMLSampler) init() {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		s.initErr = fmt.Errorf("%w: initialize NVML: %v", ErrSamplerUnavailable, nvml.ErrorString(ret))
		return
	}
	device, ret := nvml.DeviceGetHandleByIndex(s.index)
	if ret != nvml.SUCCESS {
		s.initErr = fmt.Errorf("%w: get device %d: %v", ErrSamplerUnavailable, s.index, nvml.ErrorString(ret))
		_ = nvml.Shutdown()
		return
	}
	s.device = device
}

// Close releases the library if it was initialised.
func (s *NVMLSampler) Close() error {
	if s.device == nil {
		return nil
	}
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("shutdown NVML: %v", nvml.ErrorString(ret))
	}
	s.device = nil
	return nil
}
