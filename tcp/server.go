// Package tcp implements the dispatcher and shutdown coordinator from
// spec.md §4.5/§4.6: a listener coroutine on the calling goroutine's own
// coop.Runtime accepts connections and round-robins them, via pipes, to a
// fixed pool of worker threads each driving an independent coop.Runtime.
package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-catrate"
	"github.com/naxaea/coop"
	"github.com/naxaea/coop/internal/telemetry"
	"golang.org/x/sys/unix"
)

// ClientStatus mirrors TcpClientStatus from the original implementation.
type ClientStatus int

const (
	StatusError             ClientStatus = -1
	StatusShutdownRequested ClientStatus = 0
	StatusConnected         ClientStatus = 1
)

// Server owns a listening socket, a fixed worker pool and the shutdown
// latch shared across them. It must be driven via Serve (or Accept, called
// repeatedly from inside a coop.Runtime.Run body).
type Server struct {
	fd   int
	host string
	port uint16

	opts    *serverOptions
	log     *telemetry.Logger
	limiter *catrate.Limiter

	listenerRT   *coop.Runtime
	listenerDone chan struct{}
	workers      []*worker
	next         uint32 // atomic round-robin cursor

	shutdownRequested atomic.Bool
	shutdownClientFD  atomic.Int32
	closed            atomic.Bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	started   bool
}

// NewServer binds and listens on host:port (an empty host means
// INADDR_ANY), matching tcp_server's socket/SO_REUSEADDR/bind/listen/
// non-blocking sequence. The worker pool is not started until Serve is
// called, since every worker's serving coroutine needs the handler
// function Serve is given.
func NewServer(host string, port uint16, backlog int, opts ...Option) (*Server, error) {
	cfg := resolveOptions(opts)

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("tcp: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: setsockopt: %w", err)
	}

	addr := unix.SockaddrInet4{Port: int(port)}
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil {
			unix.Close(fd)
			return nil, fmt.Errorf("tcp: invalid host %q", host)
		}
		ip4 := ip.To4()
		if ip4 == nil {
			unix.Close(fd)
			return nil, fmt.Errorf("tcp: host %q is not IPv4", host)
		}
		copy(addr.Addr[:], ip4)
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: bind: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: getsockname: %w", err)
	}
	boundPort := port
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		boundPort = uint16(in4.Port)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: set non-blocking: %w", err)
	}

	return &Server{
		fd:           fd,
		host:         host,
		port:         boundPort,
		opts:         cfg,
		log:          cfg.logger,
		limiter:      newLimiter(cfg.acceptRates),
		listenerRT:   coop.New(append([]coop.Option{coop.WithLogger(cfg.logger)}, cfg.coopOpts...)...),
		listenerDone: make(chan struct{}),
	}, nil
}

// Port returns the bound port (useful when the caller requests port 0).
func (s *Server) Port() uint16 { return s.port }

// Serve starts the worker pool bound to serve and runs the listener loop on
// the calling goroutine until a shutdown is requested or the listener's
// Runtime otherwise stops. It returns once the listener coroutine returns.
func (s *Server) Serve(serve func(*Client)) error {
	if s.started {
		return fmt.Errorf("tcp: Serve already called")
	}
	s.started = true

	for i := 0; i < s.opts.threadCount; i++ {
		w, err := newWorker(i+1, append([]coop.Option{coop.WithLogger(s.log)}, s.opts.coopOpts...))
		if err != nil {
			return fmt.Errorf("tcp: create worker %d: %w", i, err)
		}
		s.workers = append(s.workers, w)
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.start(s, serve)
			<-w.done
		}(w)
	}

	defer close(s.listenerDone)
	s.listenerRT.Run(func(rt *coop.Runtime) {
		for {
			_, status, err := s.Accept(serve)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				s.log.Warning().Err(err).Log("accept failed")
				continue
			}
			if status == StatusShutdownRequested {
				return
			}
		}
	})
	return nil
}

// Accept performs one iteration of the listener coroutine's loop: park on
// listening-socket readiness, check the shutdown latch, accept a
// connection, and hand it to the next worker. It must be called from
// within the Server's own listener Runtime (normally via Serve); tests may
// drive it directly from inside a coop.Runtime.Run body.
func (s *Server) Accept(serve func(*Client)) (*Client, ClientStatus, error) {
	if s.closed.Load() {
		return nil, StatusError, ErrClosed
	}

	var nfd int
	var sa unix.Sockaddr
	for {
		s.listenerRT.WaitRead(s.fd)

		if s.closed.Load() {
			return nil, StatusError, ErrClosed
		}
		if s.shutdownRequested.Load() {
			return nil, StatusShutdownRequested, nil
		}

		var err error
		nfd, sa, err = unix.Accept(s.fd)
		if err != nil {
			if err == unix.EAGAIN {
				// Spurious readiness (another coroutine on this thread
				// already drained the accept queue); wait again.
				continue
			}
			return nil, StatusError, fmt.Errorf("tcp: accept: %w", err)
		}
		break
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return nil, StatusError, fmt.Errorf("tcp: set non-blocking: %w", err)
	}

	host, port := sockaddrHostPort(sa)

	if s.limiter != nil {
		if _, ok := s.limiter.Allow(host); !ok {
			unix.Close(nfd)
			return nil, StatusError, fmt.Errorf("%w: %s", ErrRateLimited, host)
		}
	}

	client := &Client{FD: nfd, RemoteHost: host, RemotePort: port}

	w := s.workers[atomic.AddUint32(&s.next, 1)%uint32(len(s.workers))]
	payload := encodeHandoff(nfd, host, port)
	if err := w.send(s.listenerRT, payload); err != nil {
		unix.Close(nfd)
		return nil, StatusError, fmt.Errorf("tcp: handoff: %w", err)
	}

	return client, StatusConnected, nil
}

// RequestShutdown sets the shutdown latch, records the originating client's
// descriptor for diagnostics, wakes the caller's own runtime's slot 0 (as
// spec.md §4.6 requires), and directly interrupts the listener's runtime so
// the listener's next wake re-checks the latch without waiting for another
// connection to arrive on some worker's pipe. See DESIGN.md for why this
// repo resolves the "cross-thread propagation" ambiguity in spec.md §4.6/§9
// this way instead of replaying the original's worker-terminates-then-
// signals-main ordering.
func (s *Server) RequestShutdown(c *Client) {
	var fd int32
	if c != nil {
		fd = int32(c.FD)
		if c.rt != nil {
			c.rt.WakeUp(0)
		}
	}
	s.shutdownRequested.Store(true)
	s.shutdownClientFD.Store(fd)
	s.listenerRT.Interrupt()
}

// ShutdownRequested reports whether RequestShutdown has been called.
func (s *Server) ShutdownRequested() bool { return s.shutdownRequested.Load() }

// Close writes a shutdown terminator into every worker pipe, tears down the
// listener's own Runtime, waits for every worker goroutine to exit (each
// having torn down its own Runtime first — spec.md §9's open question is
// resolved as "yes, each runtime is destroyed by its owning thread only"),
// and closes the listening socket.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// Interrupt unconditionally: RequestShutdown is the documented path
		// for a graceful drain, but Close must also terminate a listener
		// that's merely parked waiting for a connection when closed is set
		// without it, rather than relying on the caller to have requested
		// shutdown first.
		s.listenerRT.Interrupt()
		for _, w := range s.workers {
			w.terminate()
		}
		if s.started {
			// DestroyAll must not run concurrently with listenerRT.Run
			// (see coop.Runtime's single-owner contract), so wait for
			// Serve's Run call to actually return before touching it here.
			<-s.listenerDone
		}
		s.listenerRT.DestroyAll()
		s.wg.Wait()
		err = unix.Close(s.fd)
	})
	return err
}

func sockaddrHostPort(sa unix.Sockaddr) (string, uint16) {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3])
		return ip.String(), uint16(in4.Port)
	}
	return "", 0
}
