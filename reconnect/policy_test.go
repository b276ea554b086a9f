package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoneNeverReconnects(t *testing.T) {
	_, ok := None{}.NextDelay(1, nil)
	assert.False(t, ok)
}

func TestFixedDelayConstantUntilMaxAttempts(t *testing.T) {
	f := FixedDelay{Delay: 2 * time.Second, MaxAttempts: 3}

	delay, ok := f.NextDelay(1, nil)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, delay)

	delay, ok = f.NextDelay(2, nil)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, delay)

	_, ok = f.NextDelay(3, nil)
	assert.False(t, ok)
}

func TestFixedDelayUnlimitedWhenMaxAttemptsZero(t *testing.T) {
	f := FixedDelay{Delay: time.Second, MaxAttempts: 0}
	_, ok := f.NextDelay(1000, nil)
	assert.True(t, ok)
}
