package socket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSerializerOrdering verifies that N concurrent calls are all executed
// and that no two commands overlap on the wire. Submission order is checked
// by TestSerializerFIFO.
func TestSerializerOrdering(t *testing.T) {
	var mu sync.Mutex
	var observed []string
	var concurrentCalls int32
	var maxConcurrent int32

	s := &Serializer{
		logger: zerolog.Nop(),
		jobs:   make(chan job),
		executor: func(_ zerolog.Logger, command string) ([]byte, error) {
			concurrentCalls++
			if concurrentCalls > maxConcurrent {
				maxConcurrent = concurrentCalls
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			observed = append(observed, command)
			mu.Unlock()
			concurrentCalls--
			return nil, nil
		},
	}
	go s.run()
	defer s.Close()

	const n = 50
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := commandFor(i)
			_, err := s.Execute(context.Background(), cmd)
			require.NoError(t, err)
			results[i] = cmd
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, observed, n)
	assert.LessOrEqual(t, int(maxConcurrent), 1, "commands must not overlap on the wire")
}

func commandFor(i int) string {
	return "cmd-" + string(rune('A'+i%26)) + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// TestSerializerFIFO verifies submission order is preserved: each of n
// jobs appends its index in order once executed.
func TestSerializerFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []string

	s := &Serializer{
		logger: zerolog.Nop(),
		jobs:   make(chan job),
		executor: func(_ zerolog.Logger, command string) ([]byte, error) {
			mu.Lock()
			order = append(order, command)
			mu.Unlock()
			return []byte(command), nil
		},
	}
	go s.run()
	defer s.Close()

	const n = 20
	for i := 0; i < n; i++ {
		_, err := s.Execute(context.Background(), itoa(i))
		require.NoError(t, err)
	}

	require.Len(t, order, n)
	for i, v := range order {
		assert.Equal(t, itoa(i), v)
	}
}
