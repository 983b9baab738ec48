package coop

import "golang.org/x/sys/unix"

// wakePipe is a self-pipe registered permanently in the reactor's poll set.
// It lets any goroutine (in particular, a shutdown coordinator running on a
// different OS thread, see the tcp package) interrupt a Runtime's blocking
// poll(2) call without racing its scheduler state — the byte written is only
// ever consumed, and the resulting wake-up applied, from inside reactor.step,
// which always executes on the Runtime's own locked OS thread.
type wakePipe struct {
	r, w int
}

func newWakePipe() (wakePipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return wakePipe{}, err
	}
	_ = unix.SetNonblock(fds[0], true)
	_ = unix.SetNonblock(fds[1], true)
	return wakePipe{r: fds[0], w: fds[1]}, nil
}

func (p wakePipe) signal() {
	var b [1]byte
	_, _ = unix.Write(p.w, b[:])
}

func (p wakePipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p wakePipe) close() {
	_ = unix.Close(p.r)
	_ = unix.Close(p.w)
}
