package tcp

import (
	"github.com/naxaea/coop"
	"golang.org/x/sys/unix"
)

// Client is one accepted, non-blocking connection, owned by whichever
// coroutine is serving it. Read and Write each perform exactly one
// wait-then-syscall round trip, mirroring tcp_read/tcp_write in the original
// implementation byte for byte: neither loops over partial results or EAGAIN,
// leaving that to the caller, exactly as spec.md §6 describes.
type Client struct {
	FD         int
	RemoteHost string
	RemotePort uint16

	rt *coop.Runtime
}

// Read waits for the descriptor to become readable, then issues a single
// read(2). A zero-length, nil-error result is a closed peer (§7:
// peer-closed), surfaced to the caller unchanged.
func (c *Client) Read(buf []byte) (int, error) {
	c.rt.WaitRead(c.FD)
	return unix.Read(c.FD, buf)
}

// Write waits for the descriptor to become writable, then issues a single
// write(2).
func (c *Client) Write(buf []byte) (int, error) {
	c.rt.WaitWrite(c.FD)
	return unix.Write(c.FD, buf)
}

// Runtime returns the coop.Runtime driving the coroutine currently serving
// this client, so a serving function can wait on descriptors other than
// FD — e.g. a file being read off disk to build a response — without the
// dispatcher needing to know about them.
func (c *Client) Runtime() *coop.Runtime { return c.rt }
