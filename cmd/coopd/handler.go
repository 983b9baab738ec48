package main

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/naxaea/coop/internal/telemetry"
	"github.com/naxaea/coop/tcp"
)

// handler serves connections handed off by a tcp.Server, translating
// handle_client from the original main.c. Every connection is read in a
// loop; "exit" ends the coroutine, "shutdown" requests server-wide
// shutdown, anything else gets a 200 response echoing the request body
// after the configured document's content — exactly the original's
// behaviour, just minus any real HTTP parsing (spec.md's Non-goals exclude
// that).
type handler struct {
	server  *tcp.Server
	docroot string
	log     *telemetry.Logger
}

func (h *handler) serve(c *tcp.Client) {
	log := telemetry.With(h.log, map[string]any{
		"client": fmt.Sprintf("%s:%d", c.RemoteHost, c.RemotePort),
	})

	readBuf := make([]byte, 4096)
	for {
		log.Info().Log("waiting to read from client")
		n, err := c.Read(readBuf)
		if err != nil {
			log.Warning().Err(err).Log("read failed, closing connection")
			return
		}
		if n == 0 {
			log.Info().Log("client disconnected")
			return
		}
		body := readBuf[:n]
		log.Info().Int("bytes", n).Log("read from client")

		switch {
		case bytes.HasPrefix(body, []byte("exit")):
			return
		case bytes.HasPrefix(body, []byte("shutdown")):
			h.server.RequestShutdown(c)
			return
		}

		doc, err := loadFile(c.Runtime(), filepath.Join(h.docroot, "index.html"))
		if err != nil {
			log.Err().Err(err).Log("failed to load document")
			return
		}

		header := fmt.Sprintf(
			"HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
			len(doc)+len(body),
		)
		response := make([]byte, 0, len(header)+len(doc)+len(body))
		response = append(response, header...)
		response = append(response, doc...)
		response = append(response, body...)

		written, err := c.Write(response)
		if err != nil || written <= 0 {
			log.Warning().Err(err).Log("write failed, closing connection")
			return
		}
		log.Info().Int("bytes", written).Log("wrote to client")
	}
}
