package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"DEBUG", LevelDebug, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestParseFormat(t *testing.T) {
	got, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, got)

	got, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, got)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestNewWithNilConfig(t *testing.T) {
	l := New(nil)
	require.NotNil(t, l)
	assert.True(t, l.Enabled(context.Background(), LevelInfo))
	assert.False(t, l.Enabled(context.Background(), LevelDebug))
}

func TestSetLevel(t *testing.T) {
	l := New(&Config{Level: LevelInfo, Output: "stderr"})
	assert.False(t, l.Enabled(context.Background(), LevelDebug))

	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)
	assert.True(t, l.Enabled(context.Background(), LevelDebug))
}
