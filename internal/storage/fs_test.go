package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in, want string
		err      bool
	}{
		{"questions/q1.png", "questions/q1.png", false},
		{"/questions//q1.png", "questions/q1.png", false},
		{"../../etc/passwd", "etc/passwd", false},
		{`..\..\secret`, "secret", false},
		{"", "", true},
		{"/", "", true},
		{"..", "", true},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, ErrInvalidKey, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFSStore(t *testing.T) {
	base := t.TempDir()
	s, err := NewFSStore(filepath.Join(base, "blobs"))
	require.NoError(t, err)
	ctx := context.Background()

	key, err := s.Put(ctx, "../questions/q1.png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "questions/q1.png", key)
	_, err = os.Stat(filepath.Join(base, "questions"))
	assert.True(t, os.IsNotExist(err), "nothing written outside the base")

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "png", string(b))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, key), ErrNotFound)
}
