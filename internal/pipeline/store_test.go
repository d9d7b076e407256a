package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore(3)

	_, ok := s.Latest()
	assert.False(t, ok)

	for i := 1; i <= 4; i++ {
		s.Add(&Result{RunID: fmt.Sprintf("run-%d", i)})
	}

	var ids []string
	for _, r := range s.List() {
		ids = append(ids, r.RunID)
	}
	assert.Equal(t, []string{"run-4", "run-3", "run-2"}, ids)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, "run-4", latest.RunID)

	_, ok = s.Get("run-1")
	assert.False(t, ok, "oldest run should be evicted")

	got, ok := s.Get("run-3")
	require.True(t, ok)
	assert.Equal(t, "run-3", got.RunID)
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 2 * * *", false},
		{"*/30 * * * * *", false},
		{"@hourly", false},
		{"not a schedule", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := ParseSchedule(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}
