package reservation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the wall-clock format used for target_datetime on the wire
// and in snapshots.
const DateTimeLayout = "2006-01-02 15:04:05"

// StopEmail is the reserved identity that asks the resident scheduler to shut down.
const StopEmail = "stop@stop.stop"

var ErrEmailRequired = errors.New("email is required")

// Request is one requester's reservation intent. A later submission for the
// same Email replaces the earlier one entirely.
type Request struct {
	Email       string
	Urgent      bool
	Finished    bool
	SubmittedAt time.Time
	TargetAt    time.Time
}

// NewRequest stamps a request with now. A zero target means "as soon as possible"
// and defaults to the submission time.
func NewRequest(email string, target time.Time, urgent, finished bool, now time.Time) Request {
	submitted := now.Truncate(time.Second)
	if target.IsZero() {
		target = submitted
	}
	return Request{
		Email:       strings.TrimSpace(email),
		Urgent:      urgent,
		Finished:    finished,
		SubmittedAt: submitted,
		TargetAt:    target.Truncate(time.Second),
	}
}

// StopRequest builds the shutdown sentinel submission.
func StopRequest(now time.Time) Request {
	return NewRequest(StopEmail, time.Time{}, false, true, now)
}

func (r Request) IsShutdown() bool {
	return strings.EqualFold(strings.TrimSpace(r.Email), StopEmail)
}

type wireRequest struct {
	Email          string `json:"email"`
	Urgent         bool   `json:"urgent"`
	Finished       bool   `json:"finished"`
	Timestamp      int64  `json:"timestamp"`
	TargetDateTime string `json:"target_datetime"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRequest{
		Email:          r.Email,
		Urgent:         r.Urgent,
		Finished:       r.Finished,
		Timestamp:      r.SubmittedAt.Unix(),
		TargetDateTime: r.TargetAt.In(time.Local).Format(DateTimeLayout),
	})
}

func (r *Request) UnmarshalJSON(raw []byte) error {
	var wire wireRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	email := strings.TrimSpace(wire.Email)
	if email == "" {
		return ErrEmailRequired
	}

	submitted := time.Unix(wire.Timestamp, 0)
	target := submitted
	if value := strings.TrimSpace(wire.TargetDateTime); value != "" {
		parsed, err := time.ParseInLocation(DateTimeLayout, value, time.Local)
		if err != nil {
			return fmt.Errorf("parse target_datetime %q: %w", value, err)
		}
		target = parsed
	}

	*r = Request{
		Email:       email,
		Urgent:      wire.Urgent,
		Finished:    wire.Finished,
		SubmittedAt: submitted,
		TargetAt:    target,
	}
	return nil
}
