package main

import (
	"fmt"

	"github.com/naxaea/coop"
	"golang.org/x/sys/unix"
)

// loadFile reads filepath cooperatively, the Go translation of main.c's
// load_html_file: open O_NONBLOCK, stat for the size, then wait_read/read in
// a loop until the whole file is buffered. Keeping the read loop (rather
// than a single blocking os.ReadFile) matters here — it is the one piece of
// example-handler code spec.md §1 calls out as an external collaborator
// that still has to speak the runtime's suspension contract.
func loadFile(rt *coop.Runtime, path string) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("coopd: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("coopd: stat %s: %w", path, err)
	}

	buf := make([]byte, 0, st.Size)
	for int64(len(buf)) < st.Size {
		rt.WaitRead(fd)
		chunk := make([]byte, st.Size-int64(len(buf)))
		n, err := unix.Read(fd, chunk)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return nil, fmt.Errorf("coopd: read %s: %w", path, err)
		}
		if n == 0 {
			break
		}
		buf = append(buf, chunk[:n]...)
	}
	return buf, nil
}
