package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

func TestLifecycle(t *testing.T) {
	s := State{Status: StatusDraft}

	s, err := s.Start(10*time.Minute, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, t0, *s.StartTime)
	assert.Equal(t, t0.Add(10*time.Minute), *s.EndTime)
	assert.False(t, s.IsPaused)
	assert.Nil(t, s.PausedAt)

	s, err = s.Pause(t0.Add(2 * time.Minute))
	require.NoError(t, err)
	assert.True(t, s.IsPaused)
	require.NotNil(t, s.PausedAt)

	s, err = s.Resume(t0.Add(5 * time.Minute))
	require.NoError(t, err)
	assert.False(t, s.IsPaused)
	assert.Nil(t, s.PausedAt)
	assert.Equal(t, t0.Add(13*time.Minute), *s.EndTime)

	s, err = s.Finish(t0.Add(6 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, s.Status)
}

func TestFinishClearsPause(t *testing.T) {
	s, err := State{Status: StatusDraft}.Start(time.Minute, t0)
	require.NoError(t, err)
	s, err = s.Pause(t0)
	require.NoError(t, err)
	s, err = s.Finish(t0)
	require.NoError(t, err)
	assert.False(t, s.IsPaused)
	assert.Nil(t, s.PausedAt)
}

func TestInvalidTransitions(t *testing.T) {
	active, _ := State{Status: StatusDraft}.Start(time.Minute, t0)
	paused, _ := active.Pause(t0)
	finished, _ := active.Finish(t0)

	tests := []struct {
		name string
		op   func() (State, error)
	}{
		{"start active", func() (State, error) { return active.Start(time.Minute, t0) }},
		{"start finished", func() (State, error) { return finished.Start(time.Minute, t0) }},
		{"pause draft", func() (State, error) { return State{Status: StatusDraft}.Pause(t0) }},
		{"pause paused", func() (State, error) { return paused.Pause(t0) }},
		{"resume running", func() (State, error) { return active.Resume(t0) }},
		{"resume finished", func() (State, error) { return finished.Resume(t0) }},
		{"finish finished", func() (State, error) { return finished.Finish(t0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op()
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestPauseResumeInvariance(t *testing.T) {
	const duration = 30 * time.Minute
	pauses := []struct{ at, length time.Duration }{
		{1 * time.Minute, 10 * time.Second},
		{5 * time.Minute, 3 * time.Minute},
		{6 * time.Minute, 0},
		{20 * time.Minute, 45 * time.Second},
	}

	s, err := State{Status: StatusDraft}.Start(duration, t0)
	require.NoError(t, err)

	var paused time.Duration
	shift := time.Duration(0)
	for _, p := range pauses {
		at := t0.Add(p.at + shift)
		s, err = s.Pause(at)
		require.NoError(t, err)
		s, err = s.Resume(at.Add(p.length))
		require.NoError(t, err)
		paused += p.length
		shift += p.length
	}
	assert.Equal(t, t0.Add(duration+paused), *s.EndTime)
	assert.Equal(t, t0, *s.StartTime)
}

func TestResumeWithoutPausedAt(t *testing.T) {
	end := t0.Add(time.Minute)
	s := State{Status: StatusActive, StartTime: &t0, EndTime: &end, IsPaused: true}
	s, err := s.Resume(t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, s.IsPaused)
	assert.Equal(t, end, *s.EndTime)
}

func TestStateEqual(t *testing.T) {
	a := running(t0, time.Minute)
	b := running(t0.In(time.FixedZone("EET", 2*3600)), time.Minute)
	assert.True(t, a.Equal(b))

	p, _ := a.Pause(t0)
	assert.False(t, a.Equal(p))
	assert.True(t, State{}.Equal(State{}))
}
