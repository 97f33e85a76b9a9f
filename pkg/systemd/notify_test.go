package systemd

import (
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func read(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 512)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notify socket: %v", err)
	}
	return string(buf[:n])
}

func TestReadySendsStateAndStatus(t *testing.T) {
	conn := listen(t)

	sent, err := Ready("serving")
	if err != nil || !sent {
		t.Fatalf("Ready: sent=%v err=%v", sent, err)
	}
	msg := read(t, conn)
	if !strings.Contains(msg, "READY=1") || !strings.Contains(msg, "STATUS=serving") {
		t.Fatalf("unexpected message %q", msg)
	}

	if _, err := Stopping(""); err != nil {
		t.Fatalf("Stopping: %v", err)
	}
	if msg := read(t, conn); msg != "STOPPING=1" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Ready("")
	if err != nil || sent {
		t.Fatalf("expected no-op, sent=%v err=%v", sent, err)
	}
}
