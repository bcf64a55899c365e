package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenOrInsert(t *testing.T) {
	cache, err := New(8)
	require.NoError(t, err)

	assert.False(t, cache.SeenOrInsert("fp-1"), "first insert must report the fingerprint as new")
	assert.True(t, cache.SeenOrInsert("fp-1"), "second insert must report the fingerprint as seen")
	assert.False(t, cache.SeenOrInsert("fp-2"))
}

func TestCapacityIsBoundedAndEvictsOldest(t *testing.T) {
	const capacity = 16

	cache, err := New(capacity)
	require.NoError(t, err)

	for i := 0; i < capacity+1; i++ {
		cache.SeenOrInsert(fmt.Sprintf("fp-%d", i))
	}

	assert.Equal(t, capacity, cache.Len(), "cache must never exceed its capacity")
	assert.False(t, cache.SeenOrInsert("fp-0"), "oldest entry must have been evicted")
	assert.True(t, cache.SeenOrInsert(fmt.Sprintf("fp-%d", capacity)), "newest entry must still be present")
}

func TestConcurrentInsertsOfSameFingerprintReportNewOnce(t *testing.T) {
	const goroutines = 64
	const rounds = 128

	cache, err := New(1024)
	require.NoError(t, err)

	for round := 0; round < rounds; round++ {
		fingerprint := fmt.Sprintf("fp-%d", round)

		var newCnt atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		for i := 0; i < goroutines; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				<-start

				if !cache.SeenOrInsert(fingerprint) {
					newCnt.Add(1)
				}
			}()
		}

		close(start)
		wg.Wait()

		require.EqualValues(t, 1, newCnt.Load(),
			"exactly one concurrent caller must observe the fingerprint as new")
	}
}
