package tcp

import (
	"strconv"

	"github.com/naxaea/coop"
	"golang.org/x/sys/unix"
)

// worker is one OS thread hosting its own coop.Runtime, fed connection
// handoffs through a dedicated pipe, matching spec.md §4.5.
type worker struct {
	id      int
	readFD  int
	writeFD int
	rt      *coop.Runtime
	done    chan struct{}
}

func newWorker(id int, opts []coop.Option) (*worker, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return &worker{
		id:      id,
		readFD:  fds[0],
		writeFD: fds[1],
		rt:      coop.New(opts...),
		done:    make(chan struct{}),
	}, nil
}

// start runs the worker's scheduling loop on a dedicated goroutine, pinned
// to its own OS thread by Runtime.Run. It reads one connection handoff at a
// time from its pipe and spawns a serving coroutine per connection, exactly
// as tcp__worker_function does in the original implementation.
func (w *worker) start(s *Server, serve func(*Client)) {
	go func() {
		defer close(w.done)
		w.rt.Run(func(rt *coop.Runtime) {
			buf := make([]byte, handoffSize)
			for {
				rt.WaitRead(w.readFD)

				// Woken by an explicit shutdown request: abandon any
				// pending handoff and terminate without reading, matching
				// tcp__worker_function's ordering.
				if s.shutdownRequested.Load() {
					break
				}

				n, err := unix.Read(w.readFD, buf)
				if err != nil {
					if err == unix.EAGAIN {
						continue
					}
					s.log.Warning().Str("worker", strconv.Itoa(w.id)).Err(err).Log("pipe read failed")
					break
				}

				// Woken by a shutdown terminator (a write shorter than a
				// full handoff) rather than a real connection.
				if n != handoffSize {
					break
				}

				fd, host, port, ok := decodeHandoff(buf[:n])
				if !ok {
					continue
				}

				client := &Client{FD: fd, RemoteHost: host, RemotePort: port, rt: rt}
				if _, err := rt.Spawn(func([]byte) { serve(client) }, nil, func([]byte) { unix.Close(client.FD) }); err != nil {
					s.log.Warning().Str("worker", strconv.Itoa(w.id)).Err(err).Log("spawn failed, dropping connection")
					unix.Close(fd)
				}
			}
			rt.DestroyAll()
		})
	}()
}

// send writes one connection handoff to the worker's pipe, blocking (via
// the listener's own Runtime) until the full payload is written. Called
// only from the listener coroutine.
func (w *worker) send(rt *coop.Runtime, payload []byte) error {
	for len(payload) > 0 {
		rt.WaitWrite(w.writeFD)
		n, err := unix.Write(w.writeFD, payload)
		if n > 0 {
			payload = payload[n:]
		}
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return err
		}
	}
	return nil
}

// terminate writes a short, non-handoff-sized payload so the worker's next
// pipe read is recognised as a shutdown directive (spec.md §4.5/§4.6). Best
// effort: called only during Close, after which the worker thread is
// expected to exit regardless.
func (w *worker) terminate() {
	for {
		_, err := unix.Write(w.writeFD, []byte{0})
		if err == nil || err != unix.EAGAIN {
			return
		}
	}
}

