package session

import (
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// ErrInvalidTransition is returned when a lifecycle operation does not apply
// to the current status.
var ErrInvalidTransition = errors.New("invalid session transition")

// State is the persisted part of a session the clock is derived from.
// EndTime always equals StartTime + duration + time spent paused;
// PausedAt is set exactly when IsPaused is.
type State struct {
	Status    Status     `json:"status"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	IsPaused  bool       `json:"isPaused"`
	PausedAt  *time.Time `json:"pausedAt,omitempty"`
}

// Snapshot is a session state tagged with its session id, as delivered by a
// Source.
type Snapshot struct {
	ID string `json:"id"`
	State
}

// Start moves a draft session to active and opens the countdown.
func (s State) Start(d time.Duration, now time.Time) (State, error) {
	if s.Status != StatusDraft {
		return s, errors.Wrapf(ErrInvalidTransition, "start from %s", s.Status)
	}
	end := now.Add(d)
	return State{
		Status:    StatusActive,
		StartTime: timePtr(now),
		EndTime:   &end,
	}, nil
}

func (s State) Pause(now time.Time) (State, error) {
	if s.Status != StatusActive || s.IsPaused {
		return s, errors.Wrapf(ErrInvalidTransition, "pause from %s (paused=%t)", s.Status, s.IsPaused)
	}
	s.IsPaused = true
	s.PausedAt = timePtr(now)
	return s, nil
}

// Resume extends EndTime by the length of the pause. A paused state missing
// PausedAt or EndTime only has its pause flag cleared.
func (s State) Resume(now time.Time) (State, error) {
	if s.Status != StatusActive || !s.IsPaused {
		return s, errors.Wrapf(ErrInvalidTransition, "resume from %s (paused=%t)", s.Status, s.IsPaused)
	}
	if s.PausedAt != nil && s.EndTime != nil {
		end := s.EndTime.Add(now.Sub(*s.PausedAt))
		s.EndTime = &end
	}
	s.IsPaused = false
	s.PausedAt = nil
	return s, nil
}

// Finish is terminal. It is allowed from draft and active.
func (s State) Finish(time.Time) (State, error) {
	if s.Status == StatusFinished {
		return s, errors.Wrap(ErrInvalidTransition, "session already finished")
	}
	s.Status = StatusFinished
	s.IsPaused = false
	s.PausedAt = nil
	return s, nil
}

// Equal compares states by instant, ignoring time zones.
func (s State) Equal(o State) bool {
	return s.Status == o.Status && s.IsPaused == o.IsPaused &&
		sameTime(s.StartTime, o.StartTime) && sameTime(s.EndTime, o.EndTime) && sameTime(s.PausedAt, o.PausedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func timePtr(t time.Time) *time.Time { return &t }
