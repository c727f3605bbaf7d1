package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	after := time.Now()

	assert.False(t, got.Before(before.Add(-time.Second)), "Real.Now() too early")
	assert.False(t, got.After(after.Add(time.Second)), "Real.Now() too late")
	assert.Equal(t, time.UTC, got.Location())
}

func TestFake(t *testing.T) {
	fixed := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	c := NewFake(fixed)

	assert.True(t, c.Now().Equal(fixed))

	c.Advance(90 * time.Second)
	assert.True(t, c.Now().Equal(fixed.Add(90*time.Second)))

	later := fixed.Add(24 * time.Hour)
	c.Set(later)
	assert.True(t, c.Now().Equal(later))
}
