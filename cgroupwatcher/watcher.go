// Package cgroupwatcher implements the cgroup v2 lifetime watcher: a
// detached process that waits for a sub-cgroup to become unpopulated, then
// removes it.
//
// It runs as a grandchild of the outer helper, orphaned intentionally: the
// bst root process must have exited before cgroup-v2 will permit rmdir of
// its sub-cgroup, so cleanup cannot be performed by the root process
// itself.
package cgroupwatcher

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
	"bst-go/logging"
)

// Watch blocks until dir's cgroup.events reports "populated 0", then
// removes dir and returns. dir is the already-open sub-cgroup directory
// (e.g. bst.<rootpid>); the caller owns dirFile and should not use it
// concurrently with Watch.
func Watch(dirFile *os.File) error {
	log := logging.WithComponent(logging.Default(), "cgroupwatcher")
	dirPath, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", dirFile.Fd()))
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrCgroup, "cgroupwatcher: resolve sub-cgroup path")
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrCgroup, "cgroupwatcher: epoll_create1")
	}
	defer unix.Close(epfd)

	eventsPath := dirPath + "/cgroup.events"

	eventsFile, err := os.Open(eventsPath)
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrCgroup, "cgroupwatcher: open cgroup.events")
	}
	defer eventsFile.Close()

	event := unix.EpollEvent{Events: unix.EPOLLET | unix.EPOLLPRI | unix.EPOLLERR, Fd: int32(eventsFile.Fd())}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(eventsFile.Fd()), &event); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrCgroup, "cgroupwatcher: epoll_ctl add")
	}

	events := make([]unix.EpollEvent, 1)
	for {
		populated, err := isPopulated(eventsPath)
		if err != nil {
			return err
		}
		if !populated {
			log.Info("sub-cgroup unpopulated, removing")
			return remove(dirPath)
		}

		if _, err := unix.EpollWait(epfd, events, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return bsterrors.Wrap(err, bsterrors.ErrCgroup, "cgroupwatcher: epoll_wait")
		}
	}
}

// isPopulated reopens and reads cgroup.events line by line; the kernel
// interface does not support seeking, so each wakeup requires a fresh open.
func isPopulated(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, bsterrors.Wrap(err, bsterrors.ErrCgroup, "cgroupwatcher: reopen cgroup.events")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "populated 0" {
			return false, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, bsterrors.Wrap(err, bsterrors.ErrCgroup, "cgroupwatcher: scan cgroup.events")
	}
	return true, nil
}

func remove(dirPath string) error {
	if err := unix.Rmdir(dirPath); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrCgroup, "cgroupwatcher: rmdir")
	}
	return nil
}
