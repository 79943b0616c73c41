package fdpass

import (
	"os"
	"testing"

	"bst-go/bsterrors"
)

func TestSendRecvRoundTrip(t *testing.T) {
	a, b, err := SocketPair()
	if err != nil {
		t.Fatalf("SocketPair() error = %v", err)
	}
	defer a.Close()
	defer b.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "fdpass")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	defer tmp.Close()

	const payload = "hello fdpass"
	if _, err := tmp.WriteString(payload); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- Send(a, int(tmp.Fd()))
	}()

	fd, err := Recv(b)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	received := os.NewFile(uintptr(fd), "received")
	defer received.Close()

	buf := make([]byte, len(payload))
	if _, err := received.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(buf) != payload {
		t.Errorf("received fd content = %q, want %q", buf, payload)
	}
}

func TestRecvShortReadOnPeerClose(t *testing.T) {
	a, b, err := SocketPair()
	if err != nil {
		t.Fatalf("SocketPair() error = %v", err)
	}
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = Recv(b)
	if err == nil {
		t.Fatal("Recv() on a closed peer should error")
	}
	if !bsterrors.IsKind(err, bsterrors.ErrPeerDied) {
		t.Errorf("Recv() error kind = %v, want ErrPeerDied", err)
	}
}

func TestSendRecvMultipleFds(t *testing.T) {
	a, b, err := SocketPair()
	if err != nil {
		t.Fatalf("SocketPair() error = %v", err)
	}
	defer a.Close()
	defer b.Close()

	files := make([]*os.File, 3)
	for i := range files {
		f, err := os.CreateTemp(t.TempDir(), "fdpass")
		if err != nil {
			t.Fatalf("CreateTemp() error = %v", err)
		}
		defer f.Close()
		files[i] = f
	}

	go func() {
		for _, f := range files {
			_ = Send(a, int(f.Fd()))
		}
	}()

	for range files {
		fd, err := Recv(b)
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		os.NewFile(uintptr(fd), "received").Close()
	}
}
