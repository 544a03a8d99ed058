package pulse

import (
	"bufio"
	"io"
	"strings"
)

// tcpEstablished is the st column value for ESTABLISHED in /proc/net/tcp.
const tcpEstablished = "01"

// ConnectionCounter reports the number of established TCP connections.
type ConnectionCounter func() (int, error)

// NewConnectionCounter returns the counter for the current platform.
func NewConnectionCounter() ConnectionCounter {
	return platformConnectionCounter
}

// countEstablished counts ESTABLISHED rows in /proc/net/tcp format.
func countEstablished(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	n := 0
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		f := strings.Fields(sc.Text())
		if len(f) > 3 && f[3] == tcpEstablished {
			n++
		}
	}
	return n, sc.Err()
}
