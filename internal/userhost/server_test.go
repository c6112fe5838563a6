package userhost

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startTestServer(t *testing.T, users []string) *Server {
	t.Helper()
	srv := NewServer(NewPool(users), zerolog.Nop())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func rawRequest(t *testing.T, addr, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		t.Fatal(err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(reply)
}

func TestServerLeaseProtocol(t *testing.T) {
	srv := startTestServer(t, []string{"run1", "run2"})
	client := NewClient(srv.Addr(), 2*time.Second)

	u1, ok, err := client.Acquire(10)
	if err != nil || !ok || u1 != "run1" {
		t.Fatalf("first acquire = (%q, %v, %v)", u1, ok, err)
	}
	u2, ok, err := client.Acquire(10)
	if err != nil || !ok || u2 != "run2" {
		t.Fatalf("second acquire = (%q, %v, %v)", u2, ok, err)
	}

	// Pool of two: the third concurrent lease reports exhaustion.
	if _, ok, err := client.Acquire(10); err != nil || ok {
		t.Fatalf("third acquire should be exhausted, ok=%v err=%v", ok, err)
	}

	if err := client.Release(u1); err != nil {
		t.Fatalf("release: %v", err)
	}
	u3, ok, err := client.Acquire(10)
	if err != nil || !ok || u3 != "run1" {
		t.Fatalf("acquire after release = (%q, %v, %v)", u3, ok, err)
	}
}

func TestServerUnknownAction(t *testing.T) {
	srv := startTestServer(t, []string{"run1"})
	if got := rawRequest(t, srv.Addr(), "steal run1"); got != "unknown action" {
		t.Fatalf("reply = %q, want unknown action", got)
	}
}

func TestServerMalformedInput(t *testing.T) {
	srv := startTestServer(t, []string{"run1"})

	// Garbage must not kill the server.
	for _, line := range []string{"", "get", "get nan", "put"} {
		got := rawRequest(t, srv.Addr(), line)
		if got != "unknown action" && got != "error" {
			t.Fatalf("reply to %q = %q", line, got)
		}
	}

	// Still serving afterwards.
	if got := rawRequest(t, srv.Addr(), "get 10"); got != "okay run1" {
		t.Fatalf("server unusable after malformed input: %q", got)
	}
}
