package browser

import (
	"net"
	"sort"
	"strconv"
	"time"
)

// PortScanner finds local Chrome debug ports with listening sockets.
type PortScanner struct {
	Host    string
	Timeout time.Duration

	// dial is swapped out in tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewPortScanner returns a scanner probing the loopback interface.
func NewPortScanner() *PortScanner {
	return &PortScanner{
		Host:    "127.0.0.1",
		Timeout: probeTimeout,
		dial:    net.DialTimeout,
	}
}

// Detect probes the standard debug port range plus any extra candidate
// ports and returns the open ones, deduplicated and sorted ascending.
// When nothing is listening it falls back to the default debug port so
// callers always have something to try.
func (s *PortScanner) Detect(candidates ...int) []int {
	seen := make(map[int]bool)
	var open []int

	probe := func(port int) {
		if port <= 0 || seen[port] {
			return
		}
		seen[port] = true
		if s.isOpen(port) {
			open = append(open, port)
		}
	}

	for port := ScanPortStart; port <= ScanPortEnd; port++ {
		probe(port)
	}
	for _, port := range candidates {
		probe(port)
	}

	sort.Ints(open)
	if len(open) == 0 {
		return []int{DefaultDebugPort}
	}
	return open
}

func (s *PortScanner) isOpen(port int) bool {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(port))
	conn, err := s.dial("tcp", addr, s.Timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
