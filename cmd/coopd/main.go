// Command coopd is the example HTTP-echo server from spec.md §1 ("The HTTP
// handler, file loading, logging, and CLI surface are external
// collaborators"), built on top of the coop runtime and the tcp dispatcher.
// It reproduces the behaviour of the original main.c: serve an index.html
// document with the request body echoed after it, end a connection on
// "exit", and shut the whole server down on "shutdown".
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/naxaea/coop"
	"github.com/naxaea/coop/internal/telemetry"
	"github.com/naxaea/coop/tcp"
)

func main() {
	var (
		addr          = flag.String("addr", "", "address to bind (empty = all interfaces)")
		port          = flag.Uint("port", 6969, "port to listen on")
		backlog       = flag.Uint("backlog", 128, "listen backlog")
		threads       = flag.Uint("threads", 0, "worker thread count (0 = number of CPUs, clamped to 256)")
		stackSize     = flag.Uint("stack-size", 32*1024, "coroutine payload region size, in bytes")
		maxCoroutines = flag.Uint("max-coroutines", 1024, "maximum live coroutines per worker runtime")
		docroot       = flag.String("docroot", "./resources", "directory containing index.html")
		logLevel      = flag.String("log-level", "info", "trace|debug|info|warning|error|fatal|panic")
	)
	flag.Parse()

	log := telemetry.New(telemetry.Config{Level: *logLevel})

	runtimeOpts := []coop.Option{
		coop.WithStackSize(int(*stackSize)),
		coop.WithMaxCoroutines(int(*maxCoroutines)),
	}

	srv, err := tcp.NewServer(*addr, uint16(*port), int(*backlog),
		tcp.WithThreadCount(int(*threads)),
		tcp.WithRuntimeOptions(runtimeOpts...),
		tcp.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Info().Int("port", int(srv.Port())).Log("serving")

	h := &handler{server: srv, docroot: *docroot, log: log}
	if err := srv.Serve(h.serve); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Info().Log("shutting down the server")
	if err := srv.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
