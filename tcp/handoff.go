package tcp

import "encoding/binary"

// handoffSize is the fixed payload size written to a worker pipe for every
// accepted connection, matching spec.md §4.5's "one fixed-size payload per
// handoff". The original C implementation copies a whole TcpContext
// (client + a snapshot of the server struct + a function pointer) through
// the pipe; in this repo the server and the serving function never vary
// across a Server's lifetime and already live in the worker's own memory
// (same process, same address space), so only what actually varies per
// connection — the accepted fd, remote host and remote port — crosses the
// pipe. A write shorter than handoffSize (see Server.Close) is the
// terminator the worker reads as a shutdown directive.
const handoffSize = 24

const maxHandoffHostLen = 16

func encodeHandoff(fd int, host string, port uint16) []byte {
	buf := make([]byte, handoffSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(fd))
	binary.BigEndian.PutUint16(buf[4:6], port)
	n := len(host)
	if n > maxHandoffHostLen {
		n = maxHandoffHostLen
	}
	buf[6] = uint8(n)
	copy(buf[7:7+n], host[:n])
	return buf
}

func decodeHandoff(buf []byte) (fd int, host string, port uint16, ok bool) {
	if len(buf) != handoffSize {
		return 0, "", 0, false
	}
	fd = int(int32(binary.BigEndian.Uint32(buf[0:4])))
	port = binary.BigEndian.Uint16(buf[4:6])
	n := int(buf[6])
	if n > maxHandoffHostLen {
		return 0, "", 0, false
	}
	host = string(buf[7 : 7+n])
	return fd, host, port, true
}
