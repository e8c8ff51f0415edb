package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedClockDoesNotMoveByItself(t *testing.T) {
	clock := NewFixedClock(1000)
	assert.Equal(t, int64(1000), clock.Now())
	assert.Equal(t, int64(1000), clock.Now())
}

func TestFixedClockAdvanceAndSet(t *testing.T) {
	clock := NewFixedClock(10)
	assert.Equal(t, int64(15), clock.Advance(5))
	assert.Equal(t, int64(15), clock.Now())

	clock.Set(3)
	assert.Equal(t, int64(3), clock.Now())
}

func TestFixedClockConcurrentAdvance(t *testing.T) {
	clock := NewFixedClock(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), clock.Now())
}
