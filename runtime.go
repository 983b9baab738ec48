// Package coop implements a cooperatively-scheduled coroutine runtime.
//
// The original implementation this is modeled on context-switches real
// machine stacks with hand-written assembly. Go's runtime moves and rescans
// goroutine stacks under the garbage collector, so splicing raw stack memory
// the same way is unsafe. Instead, each "coroutine" here is a real goroutine
// that hands control back and forth with the scheduler over a pair of
// rendezvous channels; the invariant the original enforced with assembly —
// exactly one coroutine executes at a time per Runtime — is enforced here by
// never letting the scheduler resume a second slot before the first reports
// back. The StackAllocator still exists, repurposed to own each slot's
// payload and scratch memory rather than a call stack.
package coop

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/naxaea/coop/internal/telemetry"
)

type action int

const (
	actYield action = iota
	actWait
	actReturn
)

// ctrlMsg is sent by whichever slot's goroutine is currently executing, back
// to the single scheduler goroutine driving Runtime.Run, every time it
// suspends or finishes.
type ctrlMsg struct {
	id     int
	act    action
	fd     int
	events pollEvents
}

// slot is one entry in the coroutine table. Slot 0 is reserved for the
// caller of Run and is never freed.
type slot struct {
	live   bool
	stack  []byte
	resume chan struct{}
}

// Runtime is a single-threaded coroutine scheduler. A Runtime must only be
// driven from one goroutine (the one that calls Run); Spawn, Yield,
// WaitRead, WaitWrite, CurrentID and WakeUp must only be called from within
// a coroutine body running under that Runtime's Run call.
type Runtime struct {
	opts *runtimeOptions
	log  *telemetry.Logger

	slots    []slot
	freeList []int // LIFO stack of retired slot ids available for reuse

	ring   []int
	parked []parkedEntry
	cursor int

	current int32 // atomic: id of the slot presently executing

	ctrl    chan ctrlMsg
	reactor *reactor
}

// New constructs a Runtime. The runtime owns no OS resources until Run is
// called.
func New(opts ...Option) *Runtime {
	cfg := resolveOptions(opts)
	r := &Runtime{
		opts:  cfg,
		log:   cfg.logger,
		slots: make([]slot, 1, 8),
		ring:  make([]int, 0, 8),
		ctrl:  make(chan ctrlMsg),
	}
	r.slots[0] = slot{live: true, resume: make(chan struct{}, 1)}
	r.ring = append(r.ring, 0)
	return r
}

// ActiveCount returns the number of runnable coroutines observed between
// suspensions, including the root slot when it is runnable.
func (r *Runtime) ActiveCount() int { return len(r.ring) }

// CurrentID returns the id of the coroutine presently executing. It is only
// meaningful when called from inside a coroutine body.
func (r *Runtime) CurrentID() int { return int(atomic.LoadInt32(&r.current)) }

// Spawn allocates a new slot, copies payload into stack memory it owns, and
// appends the slot to the end of the runnable ring. Spawning never
// context-switches: the newly spawned coroutine is not entered until the
// scheduler's round-robin cursor reaches it.
//
// destroy, if non-nil, is invoked with the slot's stack region immediately
// after entry returns (but not if the runtime is torn down via DestroyAll
// while the coroutine is still live).
func (r *Runtime) Spawn(entry func(arg []byte), payload []byte, destroy func([]byte)) (int, error) {
	if r.opts.maxCoroutines > 0 && r.liveCount() >= r.opts.maxCoroutines {
		return 0, ErrNoCapacity
	}

	size := alignSize(len(payload))
	if size == 0 {
		size = alignSize(r.opts.stackSize)
	}
	region := r.opts.allocator.Allocate(size)
	if region == nil {
		return 0, ErrAllocFailed
	}
	copy(region, payload)

	resumeCh := make(chan struct{}, 1)
	id := r.allocSlotID()
	r.slots[id] = slot{live: true, stack: region, resume: resumeCh}
	r.ring = append(r.ring, id)

	// The goroutine below must never index r.slots itself: it starts running
	// immediately, concurrently with whatever the spawning coroutine does
	// next (including further Spawn calls that append to r.slots and may
	// reallocate its backing array), so resumeCh is captured directly rather
	// than looked up through the slice each time.
	body := region[:len(payload):len(payload)]
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Info().Log("recovered panic in coroutine body")
			}
			if destroy != nil {
				destroy(region)
			}
			r.ctrl <- ctrlMsg{id: id, act: actReturn}
		}()
		<-resumeCh
		entry(body)
	}()

	return id, nil
}

// Yield suspends the current coroutine, leaving it in its place in the
// runnable ring and advancing the round-robin cursor past it, polls the
// reactor non-blockingly to migrate any now-ready parked coroutines, and
// blocks until control returns.
func (r *Runtime) Yield() {
	id := r.CurrentID()
	ch := r.slots[id].resume
	r.ctrl <- ctrlMsg{id: id, act: actYield}
	<-ch
}

// WaitRead suspends the current coroutine until fd becomes readable.
func (r *Runtime) WaitRead(fd int) {
	r.wait(fd, eventRead)
}

// WaitWrite suspends the current coroutine until fd becomes writable.
func (r *Runtime) WaitWrite(fd int) {
	r.wait(fd, eventWrite)
}

func (r *Runtime) wait(fd int, ev pollEvents) {
	id := r.CurrentID()
	ch := r.slots[id].resume
	r.ctrl <- ctrlMsg{id: id, act: actWait, fd: fd, events: ev}
	<-ch
}

// WakeUp moves a parked coroutine back onto the runnable ring immediately,
// discarding whatever descriptor it was waiting on. It is a no-op if id is
// not currently parked. WakeUp does not suspend the caller.
func (r *Runtime) WakeUp(id int) {
	for i, p := range r.parked {
		if p.id == id {
			last := len(r.parked) - 1
			r.parked[i] = r.parked[last]
			r.parked = r.parked[:last]
			r.ring = append(r.ring, id)
			return
		}
	}
}

// DestroyAll releases every non-root coroutine's stack region and discards
// any in-flight run/park/free-list state. Unlike ordinary retirement, it
// does not invoke per-coroutine destroy callbacks — it is a bulk teardown,
// not a graceful drain, and must only be called from slot 0 or after Run
// has returned.
func (r *Runtime) DestroyAll() {
	for i := 1; i < len(r.slots); i++ {
		if r.slots[i].live && r.opts.allocator != nil {
			r.opts.allocator.Release(r.slots[i].stack)
		}
	}
	r.slots = r.slots[:1]
	r.freeList = nil
	r.parked = nil
	r.ring = r.ring[:0]
	r.ring = append(r.ring, 0)
	r.cursor = 0
}

// WakeFD returns the read end of the self-pipe the reactor polls alongside
// the parked set. A byte written to the other end (see Interrupt) breaks
// this Runtime's blocking poll and has slot 0 woken if it is currently
// parked; the actual state mutation only ever happens on Run's own
// goroutine.
func (r *Runtime) WakeFD() int { return r.reactor.wakeFD() }

// Interrupt writes to the wake pipe, unblocking a concurrent Run call that
// is parked inside the reactor and resuming slot 0 once it is.
func (r *Runtime) Interrupt() { r.reactor.interrupt() }

// Run drives the scheduler loop on the calling goroutine, which is pinned
// to its OS thread for the duration (mirroring one dispatcher thread per
// Runtime in the original design). root is slot 0's body; when it returns,
// Run returns, regardless of any other coroutines still parked or
// runnable — mirroring main() returning and ending the process.
func (r *Runtime) Run(root func(*Runtime)) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rc, err := newReactor()
	if err != nil {
		r.log.Err().Err(err).Log("failed to initialise reactor")
		return
	}
	r.reactor = rc
	defer rc.close()

	rootDone := make(chan struct{})
	go func() {
		defer close(rootDone)
		<-r.slots[0].resume
		root(r)
	}()

	atomic.StoreInt32(&r.current, 0)
	r.slots[0].resume <- struct{}{}

	for {
		select {
		case <-rootDone:
			return
		case msg := <-r.ctrl:
			r.applyCtrl(msg)

			if msg.act == actReturn {
				if len(r.ring) == 0 {
					r.reactor.step(&r.parked, &r.ring, r.logf)
				}
			} else {
				r.reactor.step(&r.parked, &r.ring, r.logf)
			}

			if len(r.ring) == 0 {
				if len(r.parked) == 0 {
					return
				}
				continue
			}

			// removeCurrent leaves cursor wherever the swap-with-last left
			// it, which can run off the end of a shrunk ring; reactor.step
			// may also have just appended a same-cycle-migrated coroutine to
			// the tail, at or past that position. Clamp here, after both,
			// rather than inside removeCurrent, so a coroutine parked and
			// immediately found ready is picked up this cycle instead of
			// being passed over in favour of ring[0].
			if r.cursor >= len(r.ring) {
				r.cursor = 0
			}

			next := r.ring[r.cursor]
			atomic.StoreInt32(&r.current, int32(next))
			r.slots[next].resume <- struct{}{}
		}
	}
}

func (r *Runtime) applyCtrl(msg ctrlMsg) {
	switch msg.act {
	case actYield:
		r.cursor = (r.cursor + 1) % len(r.ring)
	case actWait:
		r.removeCurrent()
		r.parked = append(r.parked, parkedEntry{id: msg.id, fd: msg.fd, events: msg.events})
	case actReturn:
		r.removeCurrent()
		r.freeSlot(msg.id)
	}
}

// removeCurrent drops r.ring[r.cursor] via swap-with-last, leaving cursor
// pointed at whatever now occupies that position (the slot that used to be
// last, or nothing at all if the ring is now empty). Unlike the original's
// CM_WAIT_READ/CM_WAIT_WRITE branch, which never touches g_current_active,
// cursor here indexes into the shrunk ring directly — so it is left exactly
// where the swap put it rather than reset. If the swap emptied the ring, or
// reactor.step appends migrated coroutines to the tail within the same
// cycle, Run clamps cursor back into range right before the next pick.
func (r *Runtime) removeCurrent() {
	last := len(r.ring) - 1
	r.ring[r.cursor] = r.ring[last]
	r.ring = r.ring[:last]
}

// allocSlotID pops the most recently retired slot id (LIFO reuse), or grows
// the slot table if the free list is empty.
func (r *Runtime) allocSlotID() int {
	if n := len(r.freeList); n > 0 {
		id := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		return id
	}
	r.slots = append(r.slots, slot{})
	return len(r.slots) - 1
}

func (r *Runtime) freeSlot(id int) {
	if r.opts.allocator != nil {
		r.opts.allocator.Release(r.slots[id].stack)
	}
	r.slots[id] = slot{}
	r.freeList = append(r.freeList, id)
}

func (r *Runtime) liveCount() int {
	n := 0
	for i, s := range r.slots {
		if i == 0 {
			continue
		}
		if s.live {
			n++
		}
	}
	return n
}

func (r *Runtime) logf(format string, args ...any) {
	r.log.Warning().Str("detail", fmt.Sprintf(format, args...)).Log("reactor")
}
