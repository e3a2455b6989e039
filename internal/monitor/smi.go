package monitor

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

const DefaultSMIPath = "nvidia-smi"

var (
	utilizationToken = regexp.MustCompile(`(\d{1,3})%`)
	memoryToken      = regexp.MustCompile(`(\d{1,5})MiB`)
)

// SMISampler scrapes the default nvidia-smi table. The device row carries
// "used MiB / total MiB" followed by the GPU-Util percentage.
type SMISampler struct {
	path string
	run  func(ctx context.Context, path string) ([]byte, error)
}

func NewSMISampler(path string) *SMISampler {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultSMIPath
	}
	return &SMISampler{path: path, run: runCommand}
}

func (s *SMISampler) Sample(ctx context.Context) (Sample, error) {
	out, err := s.run(ctx, s.path)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: run %s: %v", ErrSamplerUnavailable, s.path, err)
	}
	return ParseSMI(string(out))
}

// ParseSMI extracts a Sample for the first device from nvidia-smi's
// human-readable output.
func ParseSMI(output string) (Sample, error) {
	row, mem := deviceRow(output)
	if mem == nil {
		return Sample{}, fmt.Errorf("%w: expected used and total memory in nvidia-smi output", ErrSamplerUnavailable)
	}
	used, err := strconv.ParseUint(row[mem[0][2]:mem[0][3]], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: parse used memory: %v", ErrSamplerUnavailable, err)
	}
	total, err := strconv.ParseUint(row[mem[1][2]:mem[1][3]], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: parse total memory: %v", ErrSamplerUnavailable, err)
	}

	// GPU-Util follows the memory column; fall back to the first percentage on
	// the page for layouts without it.
	util := utilizationToken.FindStringSubmatch(row[mem[1][1]:])
	if util == nil {
		util = utilizationToken.FindStringSubmatch(output)
	}
	if util == nil {
		return Sample{}, fmt.Errorf("%w: no utilization figure in nvidia-smi output", ErrSamplerUnavailable)
	}
	percent, err := strconv.ParseUint(util[1], 10, 32)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: parse utilization %q: %v", ErrSamplerUnavailable, util[1], err)
	}

	return Sample{
		UsedMiB:            used,
		TotalMiB:           total,
		UtilizationPercent: uint32(percent),
	}, nil
}

func deviceRow(output string) (string, [][]int) {
	for _, line := range strings.Split(output, "\n") {
		if mem := memoryToken.FindAllStringSubmatchIndex(line, 2); len(mem) == 2 {
			return line, mem
		}
	}
	return "", nil
}

func runCommand(ctx context.Context, path string) ([]byte, error) {
	return exec.CommandContext(ctx, path).Output()
}
