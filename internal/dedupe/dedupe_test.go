package dedupe

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemorySet_SeenAndRecord(t *testing.T) {
	s := NewMemorySet()

	assert.False(t, s.SeenAndRecord("1"))
	assert.True(t, s.SeenAndRecord("1"))
	assert.False(t, s.SeenAndRecord("2"))
	assert.Equal(t, 2, s.Size())
}

func TestMemorySet_Unrecord(t *testing.T) {
	s := NewMemorySet()
	s.SeenAndRecord("1")
	s.Unrecord("1")

	assert.Equal(t, 0, s.Size())
	assert.False(t, s.SeenAndRecord("1"))

	// unknown ids are ignored
	s.Unrecord("missing")
	assert.Equal(t, 1, s.Size())
}

func TestMemorySet_BoundedEvictsOldest(t *testing.T) {
	s := NewMemorySet(WithMaxSize(3))
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.False(t, s.SeenAndRecord(id))
	}

	assert.Equal(t, 3, s.Size())
	assert.True(t, s.SeenAndRecord("d"))
	assert.True(t, s.SeenAndRecord("b"))
	// "a" was evicted and counts as new again
	assert.False(t, s.SeenAndRecord("a"))
}

func TestMemorySet_BoundedUnrecordThenEvict(t *testing.T) {
	s := NewMemorySet(WithMaxSize(2))
	s.SeenAndRecord("a")
	s.SeenAndRecord("b")
	s.Unrecord("a")
	s.SeenAndRecord("c")

	assert.Equal(t, 2, s.Size())
	assert.True(t, s.SeenAndRecord("b"))
	assert.True(t, s.SeenAndRecord("c"))
}

func TestMemorySet_BoundedLongRun(t *testing.T) {
	s := NewMemorySet(WithMaxSize(100))
	for i := 0; i < 10000; i++ {
		s.SeenAndRecord(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, 100, s.Size())
	assert.True(t, s.SeenAndRecord("id-9999"))
	assert.False(t, s.SeenAndRecord("id-0"))
}

func TestMemorySet_Unbounded(t *testing.T) {
	s := NewMemorySet(WithMaxSize(0))
	for i := 0; i < 500; i++ {
		s.SeenAndRecord(fmt.Sprintf("%d", i))
	}
	assert.Equal(t, 500, s.Size())
}

func TestMemorySet_ConcurrentRecordsOnce(t *testing.T) {
	s := NewMemorySet()
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.SeenAndRecord("same") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}
