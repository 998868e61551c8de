package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	// each counter is changed under its key lock only
	counter := map[string]*int{"a": new(int), "b": new(int)}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b"}[i%2]
			unlock := k.Lock(key)
			defer unlock()
			*counter[key]++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, *counter["a"])
	assert.Equal(t, 25, *counter["b"])
	assert.Equal(t, 0, k.len())
}
