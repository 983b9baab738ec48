package coop

import "errors"

// Sentinel errors returned by Runtime methods. Wrap with fmt.Errorf("%w", ...)
// at call sites that need extra context; callers compare with errors.Is.
var (
	// ErrNoCapacity is returned by Spawn when the runtime is already hosting
	// MaxCoroutines live slots and the free list is empty.
	ErrNoCapacity = errors.New("coop: no free coroutine slot")

	// ErrAllocFailed is returned by Spawn when the configured StackAllocator
	// returns a nil region for the requested size.
	ErrAllocFailed = errors.New("coop: stack allocation failed")
)
