//go:build windows

package rtcore

import "golang.org/x/sys/windows"

func closeFD(fd int) error {
	return windows.CloseHandle(windows.Handle(fd))
}

// readFD/writeFD have no role on Windows: there is no wake-pipe fd to
// drain or signal, since iocpBackend wakes via PostQueuedCompletionStatus
// directly on the completion port.
func readFD(fd int, buf []byte) (int, error) {
	return 0, ErrNotSupported
}

func writeFD(fd int, buf []byte) (int, error) {
	return 0, ErrNotSupported
}
