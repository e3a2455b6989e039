package monitor

const DefaultThreshold = 5

// Classification is the outcome of one poll. Each flag is an edge: it is true
// only on the poll where its condition has held for more than the threshold.
type Classification struct {
	Idle          bool
	LowEfficiency bool
}

// Detector debounces idle and low-efficiency readings with two independent
// consecutive-poll counters.
type Detector struct {
	idleThreshold int
	lowThreshold  int

	idleCount int
	lowCount  int
}

// NewDetector builds a detector that fires after threshold+1 consecutive
// qualifying polls. A threshold of zero or less selects DefaultThreshold.
func NewDetector(idleThreshold, lowEfficiencyThreshold int) *Detector {
	if idleThreshold <= 0 {
		idleThreshold = DefaultThreshold
	}
	if lowEfficiencyThreshold <= 0 {
		lowEfficiencyThreshold = DefaultThreshold
	}
	return &Detector{
		idleThreshold: idleThreshold,
		lowThreshold:  lowEfficiencyThreshold,
	}
}

func (d *Detector) Observe(sample Sample) Classification {
	return Classification{
		Idle:          step(&d.idleCount, d.idleThreshold, isIdle(sample)),
		LowEfficiency: step(&d.lowCount, d.lowThreshold, isLowEfficiency(sample)),
	}
}

// Counts exposes the current counter values.
func (d *Detector) Counts() (idle, lowEfficiency int) {
	return d.idleCount, d.lowCount
}

func step(counter *int, threshold int, hit bool) bool {
	if !hit {
		*counter = 0
		return false
	}
	*counter++
	if *counter > threshold {
		*counter = 0
		return true
	}
	return false
}

func isIdle(s Sample) bool {
	if s.TotalMiB == 0 {
		return false
	}
	return s.MemoryRatio() < 0.10 && s.UtilizationPercent < 5
}

func isLowEfficiency(s Sample) bool {
	if s.TotalMiB == 0 {
		return false
	}
	ratio := s.MemoryRatio()
	return ratio >= 0.10 && ratio <= 0.5 && s.UtilizationPercent >= 5 && s.UtilizationPercent <= 50
}
