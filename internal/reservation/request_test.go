package reservation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWireFormat(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 30, 0, time.Local)
	req := NewRequest(" alice@example.com ", now.Add(2*time.Hour), true, false, now)

	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "alice@example.com", fields["email"])
	assert.Equal(t, true, fields["urgent"])
	assert.Equal(t, false, fields["finished"])
	assert.Equal(t, float64(now.Unix()), fields["timestamp"])
	assert.Equal(t, "2026-03-02 11:15:30", fields["target_datetime"])

	var decoded Request
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, req.Email, decoded.Email)
	assert.True(t, req.SubmittedAt.Equal(decoded.SubmittedAt))
	assert.True(t, req.TargetAt.Equal(decoded.TargetAt))
}

func TestNewRequestDefaultsTargetToSubmission(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 30, 500, time.Local)
	req := NewRequest("a@example.com", time.Time{}, false, false, now)
	assert.True(t, req.TargetAt.Equal(req.SubmittedAt))
	assert.Equal(t, 0, req.SubmittedAt.Nanosecond())
}

func TestUnmarshalRejectsMissingEmail(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{"email":"  ","timestamp":1}`), &req)
	assert.True(t, errors.Is(err, ErrEmailRequired))
}

func TestUnmarshalRejectsBadTarget(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{"email":"a@example.com","timestamp":1,"target_datetime":"tomorrow"}`), &req)
	assert.Error(t, err)
}

func TestStopRequestIsShutdown(t *testing.T) {
	assert.True(t, StopRequest(time.Now()).IsShutdown())
	assert.False(t, NewRequest("a@example.com", time.Time{}, false, true, time.Now()).IsShutdown())
}

func TestValidateEmail(t *testing.T) {
	for _, good := range []string{"a@example.com", "first.last@mail.example.org", "x_y-z@qq.com"} {
		assert.NoError(t, ValidateEmail(good), good)
	}
	for _, bad := range []string{"", "plain", "a@b", "@example.com", "a@@example.com", "a@example.toolong"} {
		assert.ErrorIs(t, ValidateEmail(bad), ErrInvalidEmail, bad)
	}
}

func TestParseTarget(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 30, 0, time.Local)

	target, err := ParseTarget("", "", now)
	require.NoError(t, err)
	assert.True(t, target.IsZero())

	target, err = ParseTarget("2026-3-4", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 15, 30, 0, time.Local), target)

	target, err = ParseTarget("2026-03-02", "", now)
	require.NoError(t, err)
	assert.Equal(t, now, target)

	target, err = ParseTarget("2026-03-02", "14:30:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 30, 0, 0, time.Local), target)

	_, err = ParseTarget("2026-03-01", "", now)
	assert.ErrorIs(t, err, ErrTargetInPast)

	_, err = ParseTarget("2026-03-02", "08:00:00", now)
	assert.ErrorIs(t, err, ErrTargetInPast)

	_, err = ParseTarget("03/04/2026", "", now)
	assert.ErrorIs(t, err, ErrInvalidDateTime)

	_, err = ParseTarget("", "10:00:00", now)
	assert.ErrorIs(t, err, ErrInvalidDateTime)
}
