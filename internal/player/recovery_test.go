package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retryBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryBackoff_FloorsAtBase(t *testing.T) {
	assert.Equal(t, RetryBackoffBase, retryBackoff(0))
	assert.Equal(t, RetryBackoffBase, retryBackoff(-3))
}
