package testutil

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// FakeNTPServer is a minimal SNTP (RFC 4330) responder for exercising the
// trusted-time oracle's external probe path without reaching the network.
// It replies to every request with a transmit timestamp equal to its
// configured clock, letting tests simulate correct, skewed, or unreachable
// time sources.
type FakeNTPServer struct {
	t      *testing.T
	conn   *net.UDPConn
	clock  func() time.Time
	done   chan struct{}
	closed bool
}

// NewFakeNTPServer starts a UDP listener on an OS-assigned loopback port that
// answers NTP client requests using clock() as the server's reported time.
// Skips the test (rather than failing it) if the sandbox blocks opening a UDP
// listener.
func NewFakeNTPServer(t *testing.T, clock func() time.Time) *FakeNTPServer {
	t.Helper()

	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolve udp addr: %v", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Skipf("skipping NTP responder test due to sandbox restrictions: %v", err)
		return nil
	}

	s := &FakeNTPServer{
		t:     t,
		conn:  conn,
		clock: clock,
		done:  make(chan struct{}),
	}
	go s.serve()
	return s
}

// Addr returns the "host:port" string clients should dial, in the form the
// beevik/ntp client accepts as a host argument.
func (s *FakeNTPServer) Addr() string {
	return s.conn.LocalAddr().String()
}

// Close stops the responder.
func (s *FakeNTPServer) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	_ = s.conn.Close()
}

func (s *FakeNTPServer) serve() {
	buf := make([]byte, 48)
	for {
		n, clientAddr, err := s.conn.ReadFromUDP(buf)
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil || n < 48 {
			if s.closed {
				return
			}
			continue
		}

		resp := buildNTPResponse(s.clock())
		// Echo the client's transmit timestamp as the originate timestamp.
		copy(resp[24:32], buf[40:48])
		_, _ = s.conn.WriteToUDP(resp, clientAddr)
	}
}

// buildNTPResponse encodes a 48-byte NTP v4 server response with the given
// wall-clock time in the transmit timestamp field.
func buildNTPResponse(now time.Time) []byte {
	resp := make([]byte, 48)

	// LI=0 (no warning), VN=4, Mode=4 (server)
	resp[0] = (0 << 6) | (4 << 3) | 4
	resp[1] = 1 // stratum 1 (reference clock)
	resp[2] = 4 // poll interval
	resp[3] = 0xEC

	secs := uint32(now.Unix() + ntpEpochOffset)
	frac := uint32((uint64(now.Nanosecond()) << 32) / 1e9)

	// Reference, originate, receive, and transmit timestamps all set to now;
	// serve then overwrites the originate timestamp with the request's
	// transmit timestamp, which the NTP client checks on every reply.
	for _, offset := range []int{16, 24, 32, 40} {
		binary.BigEndian.PutUint32(resp[offset:], secs)
		binary.BigEndian.PutUint32(resp[offset+4:], frac)
	}

	return resp
}
