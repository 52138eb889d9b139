package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)

	assert.Equal(t, start, m.Now())

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, m.Since(start))

	m.Set(start)
	assert.Zero(t, m.Since(start))
}

func TestReal_Monotonic(t *testing.T) {
	c := Real()
	before := c.Now()
	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))
}
