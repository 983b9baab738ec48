package coop

import (
	"golang.org/x/sys/unix"
)

// pollEvents mirrors the original implementation's POLLRDNORM/POLLWRNORM
// direction flags as passed to coroutine_wait_read/coroutine_wait_write.
//
// golang.org/x/sys/unix only exports POLLRDNORM/POLLWRNORM for BSD-family
// targets; on Linux they're omitted even though the kernel defines them
// (see uapi asm-generic/poll.h), so the values are inlined here.
type pollEvents int16

const (
	eventRead  pollEvents = 0x040 // POLLRDNORM
	eventWrite pollEvents = 0x100 // POLLWRNORM
)

// parkedEntry is one coroutine slot currently blocked on fd readiness.
type parkedEntry struct {
	id     int
	fd     int
	events pollEvents
}

// reactor polls the Runtime's parked set plus a permanent self-pipe fd used
// for cross-thread wake-ups, migrating ready slots back onto the runnable
// ring. It only ever runs on the Runtime's own locked OS thread.
type reactor struct {
	wake wakePipe
}

func newReactor() (*reactor, error) {
	wp, err := newWakePipe()
	if err != nil {
		return nil, err
	}
	return &reactor{wake: wp}, nil
}

func (rc *reactor) wakeFD() int { return rc.wake.r }

func (rc *reactor) interrupt() { rc.wake.signal() }

func (rc *reactor) close() { rc.wake.close() }

// step applies the reactor policy described by the original implementation:
// if nothing is parked, return immediately; otherwise poll with a zero
// timeout when runnable work already exists, or block indefinitely when it
// doesn't. A signal-like interruption (EINTR) is retried when there is
// nothing runnable to fall back on, and simply abandoned (returning control
// to the scheduler) when there is.
//
// parked and ring are mutated in place; ring gains the ids of every slot
// whose descriptor became ready (or, for id 0, whose the self-pipe fired).
func (rc *reactor) step(parked *[]parkedEntry, ring *[]int, log func(string, ...any)) {
	for {
		if len(*parked) == 0 {
			return
		}

		timeout := 0
		if len(*ring) == 0 {
			timeout = -1
		}

		fds := make([]unix.PollFd, len(*parked)+1)
		for i, p := range *parked {
			fds[i] = unix.PollFd{Fd: int32(p.fd), Events: int16(p.events)}
		}
		wakeIdx := len(*parked)
		fds[wakeIdx] = unix.PollFd{Fd: int32(rc.wake.r), Events: int16(eventRead)}

		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				if len(*ring) > 0 {
					return
				}
				continue
			}
			if log != nil {
				log("reactor poll failed: %v", err)
			}
			return
		}
		if n == 0 {
			return
		}

		woke := fds[wakeIdx].Revents != 0
		if woke {
			rc.wake.drain()
		}

		// Walk descending so swap-with-last removals never disturb an
		// index not yet visited.
		for i := len(*parked) - 1; i >= 0; i-- {
			if fds[i].Revents == 0 {
				continue
			}
			id := (*parked)[i].id
			last := len(*parked) - 1
			(*parked)[i] = (*parked)[last]
			*parked = (*parked)[:last]
			*ring = append(*ring, id)
		}

		if woke {
			for i, p := range *parked {
				if p.id == 0 {
					last := len(*parked) - 1
					(*parked)[i] = (*parked)[last]
					*parked = (*parked)[:last]
					*ring = append(*ring, 0)
					break
				}
			}
		}
		return
	}
}
