package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VenkatGGG/gpu-reserve/internal/lease"
	"github.com/VenkatGGG/gpu-reserve/internal/monitor"
	"github.com/VenkatGGG/gpu-reserve/internal/notify"
	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
)

var morning = time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)

type batchSource struct {
	mu      sync.Mutex
	batches [][]reservation.Request
}

func (s *batchSource) push(reqs ...reservation.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, reqs)
}

func (s *batchSource) Drain() []reservation.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil
	}
	next := s.batches[0]
	s.batches = s.batches[1:]
	return next
}

type scriptedSampler struct {
	sample monitor.Sample
	err    error
	calls  int
}

func (s *scriptedSampler) Sample(context.Context) (monitor.Sample, error) {
	s.calls++
	return s.sample, s.err
}

type sent struct {
	to      string
	subject string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sent{to: to, subject: subject})
	return nil
}

func (m *recordingMailer) count(to string, msg notify.Message) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.to == to && s.subject == msg.Subject {
			n++
		}
	}
	return n
}

type memStore struct {
	mu    sync.Mutex
	saved *reservation.State
	saves int
	err   error
}

func (s *memStore) Load(context.Context) (*reservation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return nil, errors.New("empty")
	}
	return s.saved.Clone(), nil
}

func (s *memStore) Save(_ context.Context, state *reservation.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = state.Clone()
	s.saves++
	return nil
}

func (s *memStore) Close() error { return nil }

type captureSink struct {
	mu   sync.Mutex
	last Status
	n    int
}

func (c *captureSink) Publish(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = status
	c.n++
}

var busy = monitor.Sample{UsedMiB: 20000, TotalMiB: 24576, UtilizationPercent: 90}
var idle = monitor.Sample{UsedMiB: 100, TotalMiB: 24576, UtilizationPercent: 0}
var sluggish = monitor.Sample{UsedMiB: 6000, TotalMiB: 24576, UtilizationPercent: 20}

type harness struct {
	sched   *Scheduler
	source  *batchSource
	sampler *scriptedSampler
	mailer  *recordingMailer
	store   *memStore
	sink    *captureSink
	clock   time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		source:  &batchSource{},
		sampler: &scriptedSampler{sample: busy},
		mailer:  &recordingMailer{},
		store:   &memStore{},
		sink:    &captureSink{},
		clock:   morning,
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff.Base = 10 * time.Second
	}
	sched, err := New(cfg, Deps{
		Source:  h.source,
		Sampler: h.sampler,
		Mailer:  h.mailer,
		Store:   h.store,
		Sink:    h.sink,
	}, nil)
	require.NoError(t, err)
	sched.now = func() time.Time { return h.clock }
	h.sched = sched
	return h
}

func (h *harness) cycle(t *testing.T) bool {
	t.Helper()
	stop, err := h.sched.Cycle(context.Background())
	require.NoError(t, err)
	return stop
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func request(email string, urgent, finished bool, submitted time.Time) reservation.Request {
	return reservation.NewRequest(email, time.Time{}, urgent, finished, submitted)
}

func TestCycleMergesRequestAndConfirmsIt(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.push(request("a@example.com", false, false, morning))

	assert.False(t, h.cycle(t))

	assert.Equal(t, 1, h.mailer.count("a@example.com", notify.Created("a@example.com")))
	require.NotNil(t, h.store.saved)
	require.NotNil(t, h.store.saved.Active)
	assert.Equal(t, "a@example.com", h.store.saved.Active.Email)
	assert.Equal(t, 1, h.sampler.calls)
}

func TestFinishedHolderHandsOverWithOneReleasedMail(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.push(
		request("a@example.com", false, false, morning),
		request("b@example.com", false, false, morning.Add(time.Second)),
	)
	h.cycle(t)
	require.Equal(t, "a@example.com", h.store.saved.Active.Email)

	h.advance(time.Second)
	h.source.push(request("a@example.com", false, true, h.clock))
	h.cycle(t)
	h.advance(time.Second)
	h.cycle(t)

	assert.Equal(t, 1, h.mailer.count("a@example.com", notify.Released("a@example.com")))
	assert.Equal(t, "b@example.com", h.store.saved.Active.Email)
	assert.NotContains(t, h.store.saved.Pending, "a@example.com")
}

func TestSentinelPersistsEarlierRequestsAndDropsLaterOnes(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.push(
		request("a@example.com", false, false, morning),
		reservation.StopRequest(morning),
		request("b@example.com", false, false, morning),
	)

	assert.True(t, h.cycle(t))

	require.NotNil(t, h.store.saved)
	assert.Contains(t, h.store.saved.Pending, "a@example.com")
	assert.NotContains(t, h.store.saved.Pending, "b@example.com")
	assert.NotContains(t, h.store.saved.Pending, reservation.StopEmail)
	assert.Equal(t, 0, h.sampler.calls)
	assert.Zero(t, h.mailer.count("b@example.com", notify.Created("b@example.com")))
}

func TestIdleNoticeAfterThresholdPlusOnePolls(t *testing.T) {
	h := newHarness(t, Config{IdleThreshold: 2, LowEfficiencyThreshold: 2})
	h.source.push(request("a@example.com", false, false, morning))
	h.sampler.sample = idle

	h.cycle(t)
	h.advance(time.Second)
	h.cycle(t)
	assert.Zero(t, h.mailer.count("a@example.com", notify.Idle("a@example.com")))

	h.advance(time.Second)
	h.cycle(t)
	assert.Equal(t, 1, h.mailer.count("a@example.com", notify.Idle("a@example.com")))
	assert.Equal(t, 20*time.Second, h.sched.backoff.Interval())
}

func TestZeroThresholdConfigUsesDefault(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.push(request("a@example.com", false, false, morning))
	h.sampler.sample = idle

	for i := 1; i <= monitor.DefaultThreshold; i++ {
		h.cycle(t)
		h.advance(time.Second)
	}
	assert.Zero(t, h.mailer.count("a@example.com", notify.Idle("a@example.com")))

	h.cycle(t)
	assert.Equal(t, 1, h.mailer.count("a@example.com", notify.Idle("a@example.com")))
}

func TestNoticesAreSpacedByBackoff(t *testing.T) {
	h := newHarness(t, Config{IdleThreshold: 1, LowEfficiencyThreshold: 1})
	h.source.push(request("a@example.com", false, false, morning))
	h.sampler.sample = sluggish

	for i := 0; i < 15; i++ {
		h.cycle(t)
		h.advance(time.Second)
	}

	assert.Equal(t, 1, h.mailer.count("a@example.com", notify.LowEfficiency("a@example.com")))

	for i := 0; i < 10; i++ {
		h.cycle(t)
		h.advance(time.Second)
	}
	assert.Equal(t, 2, h.mailer.count("a@example.com", notify.LowEfficiency("a@example.com")))
}

func TestBackoffResetsWhenNewHolderSelected(t *testing.T) {
	h := newHarness(t, Config{IdleThreshold: 1, LowEfficiencyThreshold: 1})
	h.source.push(
		request("a@example.com", false, false, morning),
		request("b@example.com", false, false, morning.Add(time.Second)),
	)
	h.sampler.sample = idle
	h.cycle(t)
	h.advance(time.Second)
	h.cycle(t)
	require.Equal(t, 1, h.mailer.count("a@example.com", notify.Idle("a@example.com")))

	h.advance(21 * time.Second)
	h.cycle(t)
	h.advance(time.Second)
	h.cycle(t)
	require.Equal(t, 2, h.mailer.count("a@example.com", notify.Idle("a@example.com")))
	require.Equal(t, 40*time.Second, h.sched.backoff.Interval())

	h.advance(time.Second)
	h.cycle(t)
	h.advance(11 * time.Second)
	h.source.push(request("a@example.com", false, true, h.clock))
	h.cycle(t)

	assert.Equal(t, 1, h.mailer.count("b@example.com", notify.Idle("b@example.com")))
	assert.Equal(t, 20*time.Second, h.sched.backoff.Interval())
}

func TestNoNoticeOutsideWindow(t *testing.T) {
	h := newHarness(t, Config{IdleThreshold: 1})
	h.clock = time.Date(2026, 3, 2, 23, 0, 0, 0, time.Local)
	h.source.push(request("a@example.com", false, false, h.clock))
	h.sampler.sample = idle

	h.cycle(t)
	h.advance(time.Second)
	h.cycle(t)

	assert.Zero(t, h.mailer.count("a@example.com", notify.Idle("a@example.com")))
}

func TestUndeliverableMailDoesNotStopCycle(t *testing.T) {
	h := newHarness(t, Config{})
	h.mailer.err = notify.ErrUndeliverable
	h.source.push(request("a@example.com", false, false, morning))

	stop, err := h.sched.Cycle(context.Background())

	require.NoError(t, err)
	assert.False(t, stop)
	assert.Equal(t, "a@example.com", h.store.saved.Active.Email)
}

func TestSamplerFailureIsTypedAndStateIsKept(t *testing.T) {
	h := newHarness(t, Config{})
	h.sampler.err = monitor.ErrSamplerUnavailable
	h.source.push(request("a@example.com", false, false, morning))

	_, err := h.sched.Cycle(context.Background())

	assert.ErrorIs(t, err, monitor.ErrSamplerUnavailable)
	require.NotNil(t, h.store.saved)
	assert.Contains(t, h.store.saved.Pending, "a@example.com")
}

func TestSaveFailureIsFatal(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.err = errors.New("disk full")

	_, err := h.sched.Cycle(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStatusPublishedEachCycle(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.push(
		request("a@example.com", false, false, morning),
		request("u@example.com", true, false, morning.Add(time.Second)),
	)

	h.cycle(t)

	require.Equal(t, 1, h.sink.n)
	status := h.sink.last
	require.NotNil(t, status.Active)
	assert.Equal(t, "u@example.com", status.Active.Email)
	require.Len(t, status.Pending, 2)
	assert.Equal(t, "u@example.com", status.Pending[0].Email)
	assert.True(t, status.Sampled)
	assert.Equal(t, busy, status.Sample)
	assert.ElementsMatch(t, []notify.Kind{notify.KindCreated, notify.KindCreated}, status.Delivered)
}

func TestCredentialsOverrideSnapshot(t *testing.T) {
	initial := reservation.NewState()
	initial.Holder = reservation.Credentials{Account: "old@qq.com", Password: "old"}

	sched, err := New(Config{Credentials: reservation.Credentials{Account: "new@qq.com", Password: "new"}}, Deps{
		Source:  &batchSource{},
		Sampler: &scriptedSampler{},
		Mailer:  &recordingMailer{},
		Store:   &memStore{},
	}, initial)

	require.NoError(t, err)
	assert.Equal(t, "new@qq.com", sched.Snapshot().Holder.Account)
}

func TestRunReturnsNilOnSentinel(t *testing.T) {
	h := newHarness(t, Config{TickInterval: 5 * time.Millisecond})
	h.sched.now = time.Now
	h.source.push(request("a@example.com", false, false, time.Now()))
	h.source.push(reservation.StopRequest(time.Now()))

	done := make(chan error, 1)
	go func() { done <- h.sched.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop on sentinel")
	}
	assert.Contains(t, h.store.saved.Pending, "a@example.com")
}

type flakyLease struct {
	mu       sync.Mutex
	renewals int
	lostAt   int
	released bool
}

func (l *flakyLease) Acquire(context.Context) error { return nil }

func (l *flakyLease) Renew(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renewals++
	if l.renewals >= l.lostAt {
		return lease.ErrLeaseLost
	}
	return nil
}

func (l *flakyLease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func TestRunStopsWhenLeaseLost(t *testing.T) {
	held := &flakyLease{lostAt: 3}
	h := newHarness(t, Config{TickInterval: 5 * time.Millisecond})
	h.sched.now = time.Now
	h.sched.lease = held

	done := make(chan error, 1)
	go func() { done <- h.sched.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, lease.ErrLeaseLost)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler kept running without its lease")
	}
	held.mu.Lock()
	defer held.mu.Unlock()
	assert.True(t, held.released)
	assert.Equal(t, 2, h.sampler.calls)
}

func TestRunRefusesWhenLeaseHeld(t *testing.T) {
	manager := lease.NewInMemoryManager()
	resident := lease.NewKeeper(manager, "gpu-host", time.Minute)
	require.NoError(t, resident.Acquire(context.Background()))

	h := newHarness(t, Config{TickInterval: 10 * time.Millisecond})
	h.sched.lease = lease.NewKeeper(manager, "gpu-host", time.Minute)

	err := h.sched.Run(context.Background())
	assert.ErrorIs(t, err, lease.ErrHeld)
	assert.Zero(t, h.sampler.calls)
}

func TestRunPersistsOnCancel(t *testing.T) {
	h := newHarness(t, Config{TickInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.sched.Run(ctx))
	assert.Equal(t, 1, h.store.saves)
}
