package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserError(t *testing.T) {
	base := fmt.Errorf("%w: model.ckpt", ErrMissingResource)
	err := NewUserError("Train a model first with 'lookalike train'", base)

	assert.Equal(t, "Train a model first with 'lookalike train': missing resource: model.ckpt", err.Error())
	assert.True(t, errors.Is(err, ErrMissingResource))

	var userErr *UserError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &userErr)
	assert.Equal(t, base, userErr.Err)
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "decode", err: fmt.Errorf("wrap: %w", ErrDecode), want: false},
		{name: "exhausted", err: fmt.Errorf("wrap: %w", ErrExhaustedSource), want: true},
		{name: "mismatch", err: ErrClassMismatch, want: true},
		{name: "other", err: errors.New("disk full"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	_, err = ParseLevel("chatty")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "json")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown", "epoch", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"epoch":1`)

	_, err = NewLogger(&buf, slog.LevelInfo, "xml")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoggerFromContext(t *testing.T) {
	assert.Equal(t, slog.Default(), Logger(context.Background()))

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "console")
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), logger)
	Logger(ctx).Info("from context")
	assert.Contains(t, buf.String(), "from context")
}

func TestWriteFileAtomic(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := WriteFileAtomic(fs, "/out/model.ckpt", 0o600, func(w io.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/out/model.ckpt")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// A failed write leaves the previous content and no temporary files.
	err = WriteFileAtomic(fs, "/out/model.ckpt", 0o600, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("encoder failed")
	})
	require.Error(t, err)

	data, err = afero.ReadFile(fs, "/out/model.ckpt")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
