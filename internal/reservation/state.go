package reservation

import (
	"sort"
	"time"
)

// Horizon is how far ahead a target may lie and still let a lower-ranked
// request overtake a higher-ranked one whose target is further out.
const Horizon = 10 * time.Hour

// Credentials identify the mailbox notifications are sent from.
type Credentials struct {
	Account  string
	Password string
}

// State is the scheduler's durable aggregate. It is owned by a single goroutine
// and is not safe for concurrent use.
type State struct {
	Holder  Credentials
	Active  *Request
	Pending map[string]Request
}

func NewState() *State {
	return &State{Pending: make(map[string]Request)}
}

// Upsert stores req under its email, replacing any earlier submission wholesale.
func (s *State) Upsert(req Request) {
	if s.Pending == nil {
		s.Pending = make(map[string]Request)
	}
	s.Pending[req.Email] = req
}

// Update runs one reconciliation pass: refresh the active request from pending,
// drop finished entries, and reselect when there is no live active request.
// It reports whether a selection ran, which is when the caller resets its
// notification backoff.
func (s *State) Update(now time.Time) bool {
	if s.Pending == nil {
		s.Pending = make(map[string]Request)
	}

	if s.Active != nil {
		if current, ok := s.Pending[s.Active.Email]; ok {
			refreshed := current
			s.Active = &refreshed
		} else {
			s.Active = nil
		}
	}

	for email, req := range s.Pending {
		if req.Finished {
			delete(s.Pending, email)
		}
	}

	if s.Active != nil && !s.Active.Finished {
		return false
	}
	s.Active = s.Select(now)
	return true
}

// Select picks the next holder: the top-ranked request when its target is
// within Horizon of now, otherwise the best-ranked request that is, otherwise
// the top-ranked request anyway.
func (s *State) Select(now time.Time) *Request {
	ranked := Rank(s.Pending)
	if len(ranked) == 0 {
		return nil
	}
	chosen := ranked[0]
	if len(ranked) > 1 && !withinHorizon(chosen, now) {
		for _, candidate := range ranked[1:] {
			if withinHorizon(candidate, now) {
				chosen = candidate
				break
			}
		}
	}
	return &chosen
}

func withinHorizon(req Request, now time.Time) bool {
	return req.TargetAt.Sub(now) <= Horizon
}

// Rank orders requests urgent first, then by earliest submission. Email breaks
// the remaining ties so the order is stable across map iterations.
func Rank(pending map[string]Request) []Request {
	ranked := make([]Request, 0, len(pending))
	for _, req := range pending {
		ranked = append(ranked, req)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Urgent != b.Urgent {
			return a.Urgent
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.Email < b.Email
	})
	return ranked
}

// Clone returns a deep copy suitable for handing to another goroutine.
func (s *State) Clone() *State {
	out := &State{
		Holder:  s.Holder,
		Pending: make(map[string]Request, len(s.Pending)),
	}
	if s.Active != nil {
		active := *s.Active
		out.Active = &active
	}
	for email, req := range s.Pending {
		out.Pending[email] = req
	}
	return out
}
