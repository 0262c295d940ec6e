package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSession_StopCancelsContext(t *testing.T) {
	t.Parallel()

	s := New(context.Background())

	assert.False(t, s.Stopped())
	assert.NoError(t, s.Context().Err())

	s.Stop()

	assert.True(t, s.Stopped())
	assert.Error(t, s.Context().Err())
}

func TestSession_ProcessingMarker(t *testing.T) {
	t.Parallel()

	s := New(context.Background())

	_, _, ok := s.Processing()
	assert.False(t, ok)

	s.BeginProcessing("/share/report.xlsx")

	path, since, ok := s.Processing()
	assert.True(t, ok)
	assert.Equal(t, "/share/report.xlsx", path)
	assert.False(t, since.IsZero())

	s.EndProcessing()

	_, _, ok = s.Processing()
	assert.False(t, ok)
}

func TestSession_IndependentSessions(t *testing.T) {
	t.Parallel()

	a := New(context.Background())
	b := New(context.Background())

	a.Stop()

	assert.True(t, a.Stopped())
	assert.False(t, b.Stopped())
}
