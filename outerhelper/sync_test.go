package outerhelper

import (
	"testing"

	"bst-go/bsterrors"
	"bst-go/fdpass"
)

func TestSendPIDAndSync(t *testing.T) {
	parentConn, helperConn, err := fdpass.SocketPair()
	if err != nil {
		t.Fatalf("SocketPair() error = %v", err)
	}
	defer helperConn.Close()

	h := &Helper{pid: 4242, conn: parentConn}
	defer h.Close()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		if _, err := helperConn.Read(buf); err != nil {
			done <- err
			return
		}
		_, err := helperConn.Write([]byte{1})
		done <- err
	}()

	if err := h.SendPID(1234); err != nil {
		t.Fatalf("SendPID() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("fake helper error = %v", err)
	}
	if err := h.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func TestSyncDetectsHelperDeath(t *testing.T) {
	parentConn, helperConn, err := fdpass.SocketPair()
	if err != nil {
		t.Fatalf("SocketPair() error = %v", err)
	}
	defer parentConn.Close()

	h := &Helper{pid: 4242, conn: parentConn}

	if err := helperConn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err = h.Sync()
	if !bsterrors.IsKind(err, bsterrors.ErrPeerDied) {
		t.Fatalf("Sync() error = %v, want ErrPeerDied", err)
	}
}

func TestPID(t *testing.T) {
	h := &Helper{pid: 99}
	if got := h.PID(); got != 99 {
		t.Errorf("PID() = %d, want 99", got)
	}
}
