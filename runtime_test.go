package coop_test

import (
	"os"
	"testing"

	"github.com/naxaea/coop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return r, w
}

// Scenario 1 from spec.md §8: two coroutines A and B each print (here:
// record) their id twice with a yield between; starting from the root, the
// observed sequence is A,B,A,B or B,A,B,A, never interleaved otherwise.
func TestYieldRoundRobin(t *testing.T) {
	rt := coop.New()

	var sequence []string
	rt.Run(func(rt *coop.Runtime) {
		a, err := rt.Spawn(func([]byte) {
			sequence = append(sequence, "A")
			rt.Yield()
			sequence = append(sequence, "A")
		}, nil, nil)
		require.NoError(t, err)
		require.NotZero(t, a)

		b, err := rt.Spawn(func([]byte) {
			sequence = append(sequence, "B")
			rt.Yield()
			sequence = append(sequence, "B")
		}, nil, nil)
		require.NoError(t, err)
		require.NotZero(t, b)

		for rt.ActiveCount() > 1 {
			rt.Yield()
		}
	})

	assert.Equal(t, []string{"A", "B", "A", "B"}, sequence)
}

// Park/wake idempotence: WakeUp on a parked id moves it to runnable; a
// second immediate WakeUp is a no-op.
func TestWakeUpIdempotent(t *testing.T) {
	rt := coop.New()

	r, _ := pipe(t) // never written to: WaitRead(r) always parks

	var woke int
	rt.Run(func(rt *coop.Runtime) {
		id, err := rt.Spawn(func([]byte) {
			rt.WaitRead(int(r.Fd()))
			woke++
		}, nil, nil)
		require.NoError(t, err)

		// Let the spawned coroutine run up to its WaitRead and park.
		rt.Yield()

		rt.WakeUp(id)
		rt.WakeUp(id) // no-op: id is no longer parked after the first call

		// Let it run past WaitRead exactly once.
		rt.Yield()
	})

	assert.Equal(t, 1, woke)
}

// Spawn-then-retire stability: spawning K coroutines that each return
// immediately, then spawning K more, reuses the same K slot ids via the
// free list's LIFO discipline.
func TestSpawnRetireReusesSlots(t *testing.T) {
	rt := coop.New()

	const k = 4
	var firstRound, secondRound []int

	rt.Run(func(rt *coop.Runtime) {
		for i := 0; i < k; i++ {
			id, err := rt.Spawn(func([]byte) {}, nil, nil)
			require.NoError(t, err)
			firstRound = append(firstRound, id)
			rt.Yield() // let it run to completion and retire
		}
		rt.Yield()

		for i := 0; i < k; i++ {
			id, err := rt.Spawn(func([]byte) {}, nil, nil)
			require.NoError(t, err)
			secondRound = append(secondRound, id)
			rt.Yield()
		}
		rt.Yield()
	})

	require.Len(t, firstRound, k)
	require.Len(t, secondRound, k)
	for _, id := range secondRound {
		assert.Contains(t, firstRound, id)
	}
}

// active_count() equals the length of the runnable ring observed between
// suspensions (spec.md §8's quantified invariant).
func TestActiveCount(t *testing.T) {
	rt := coop.New()

	var observed []int
	rt.Run(func(rt *coop.Runtime) {
		observed = append(observed, rt.ActiveCount()) // just root
		_, err := rt.Spawn(func([]byte) {
			observed = append(observed, rt.ActiveCount())
		}, nil, nil)
		require.NoError(t, err)
		rt.Yield()
		observed = append(observed, rt.ActiveCount())
	})

	assert.Equal(t, 1, observed[0])
	assert.Equal(t, 2, observed[1])
}

// Capacity exhaustion and recovery: the (K+1)th spawn fails with
// ErrNoCapacity once K coroutines are live (parked, in this test, rather
// than retired); waking and retiring them frees slots for the next spawn.
func TestSpawnCapacityExhaustion(t *testing.T) {
	const max = 3
	rt := coop.New(coop.WithMaxCoroutines(max))

	var lastErr error
	rt.Run(func(rt *coop.Runtime) {
		ids := make([]int, 0, max)
		for i := 0; i < max; i++ {
			r, _ := pipe(t)
			id, err := rt.Spawn(func([]byte) {
				rt.WaitRead(int(r.Fd()))
			}, nil, nil)
			require.NoError(t, err)
			ids = append(ids, id)
			rt.Yield() // let it reach WaitRead and park
		}

		_, lastErr = rt.Spawn(func([]byte) {}, nil, nil)

		for _, id := range ids {
			rt.WakeUp(id)
		}
		for rt.ActiveCount() > 1 {
			rt.Yield() // drain until every woken coroutine has retired
		}

		_, err := rt.Spawn(func([]byte) {}, nil, nil)
		assert.NoError(t, err)
	})

	assert.ErrorIs(t, lastErr, coop.ErrNoCapacity)
}
