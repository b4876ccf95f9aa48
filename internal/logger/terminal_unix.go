//go:build !windows

package logger

import "golang.org/x/sys/unix"

// isTerminal reports whether fd refers to a terminal. Asking the kernel for
// the termios state is the cheapest probe that works on every Unix.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), ioctlReadTermios)
	return err == nil
}
