package pty

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestMakeRawPreservesCallerOflagSeparately(t *testing.T) {
	orig := unix.Termios{
		Iflag: unix.ICRNL | unix.IXON,
		Oflag: unix.OPOST | unix.ONLCR,
		Lflag: unix.ECHO | unix.ICANON | unix.ISIG,
		Cflag: unix.CS7 | unix.PARENB,
	}
	raw := orig
	makeRaw(&raw)

	if raw.Iflag&unix.ICRNL != 0 {
		t.Error("makeRaw did not clear ICRNL")
	}
	if raw.Lflag&unix.ICANON != 0 || raw.Lflag&unix.ECHO != 0 {
		t.Error("makeRaw did not clear canonical/echo")
	}
	if raw.Cflag&unix.CS8 == 0 {
		t.Error("makeRaw did not set CS8")
	}
	if raw.Cc[unix.VMIN] != 1 || raw.Cc[unix.VTIME] != 0 {
		t.Error("makeRaw did not set VMIN/VTIME")
	}
	// The broker caller is responsible for restoring Oflag from the
	// original termios after calling makeRaw; verify makeRaw itself
	// still clears OPOST so that restoring Oflag is meaningful.
	if raw.Oflag&unix.OPOST != 0 {
		t.Error("makeRaw did not clear OPOST")
	}
}

func TestHandleSignalIgnoresNonWinchAndNonTTY(t *testing.T) {
	b := &Broker{stdinIsTTY: false}
	if b.handleSignal(uint32(unix.SIGWINCH)) {
		t.Error("handleSignal should return false when stdin is not a tty")
	}

	b2 := &Broker{stdinIsTTY: true}
	if b2.handleSignal(uint32(unix.SIGUSR1)) {
		t.Error("handleSignal should return false for non-SIGWINCH signals")
	}
}

func TestForwardSignalSkipsSIGCHLD(t *testing.T) {
	if err := forwardSignal(999999, uint32(unix.SIGCHLD)); err != nil {
		t.Errorf("forwardSignal(SIGCHLD) error = %v, want nil", err)
	}
}

func TestNativeUint32(t *testing.T) {
	buf := []byte{0x01, 0x00, 0x00, 0x00}
	if got := nativeUint32(buf); got != 1 {
		t.Errorf("nativeUint32() = %d, want 1", got)
	}
}
