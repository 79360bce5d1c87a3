package protocol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceGeneratorSequential(t *testing.T) {
	g := &SequenceGenerator{}
	for i := 0; i < 256; i++ {
		assert.Equal(t, uint8(i), g.Next())
	}
	// Wraps 255 -> 0.
	assert.Equal(t, uint8(0), g.Next())
}

func TestSequenceGeneratorCurrent(t *testing.T) {
	g := &SequenceGenerator{}
	assert.Equal(t, uint8(0), g.Current())
	g.Next()
	assert.Equal(t, uint8(1), g.Current())
}

// Concurrent callers must never receive the same value for the same lap.
func TestSequenceGeneratorConcurrent(t *testing.T) {
	const (
		goroutines = 8
		perG       = 32 // 8*32 = 256, exactly one lap
	)

	g := &SequenceGenerator{}
	var mu sync.Mutex
	counts := make(map[uint8]int)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				v := g.Next()
				mu.Lock()
				counts[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, counts, 256)
	for v, n := range counts {
		assert.Equal(t, 1, n, "sequence %d issued %d times", v, n)
	}
}
