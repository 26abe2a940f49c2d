package driver

import (
	"context"
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

// InterruptLine delivers hardware interrupts to a userspace handler
type InterruptLine interface {
	// Wait blocks until the next interrupt and returns the running event count
	Wait(ctx context.Context) (uint32, error)
	// Unmask re-arms the line after the handler ran
	Unmask() error
	Close() error
}

// pollInterval bounds how long Wait sleeps before checking ctx
const pollInterval = 100 // milliseconds

// UIOLine is the interrupt of a device bound to uio_pci_generic
type UIOLine struct {
	fd   int
	path string
}

// OpenUIO opens a /dev/uioN node
func OpenUIO(path string) (*UIOLine, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, wrapSyscallError(err, "opening "+path)
	}
	return &UIOLine{fd: fd, path: path}, nil
}

// Path returns the device node
func (u *UIOLine) Path() string {
	return u.path
}

// Fd returns the file descriptor
func (u *UIOLine) Fd() int {
	return u.fd
}

// Unmask writes 1 to the node, which re-enables INTx in uio_pci_generic
func (u *UIOLine) Unmask() error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 1)
	if _, err := unix.Write(u.fd, buf[:]); err != nil {
		return wrapSyscallError(err, "unmask "+u.path)
	}
	return nil
}

// Wait polls the node until an interrupt is counted or ctx is done
func (u *UIOLine) Wait(ctx context.Context) (uint32, error) {
	fds := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, wrapSyscallError(err, "poll "+u.path)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return 0, NewError(StatusDeviceGone, "interrupt line "+u.path)
		}

		var buf [4]byte
		if _, err := unix.Read(u.fd, buf[:]); err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return 0, wrapSyscallError(err, "read "+u.path)
		}
		return binary.NativeEndian.Uint32(buf[:]), nil
	}
}

// Close closes the node
func (u *UIOLine) Close() error {
	if u.fd >= 0 {
		err := unix.Close(u.fd)
		u.fd = -1
		if err != nil {
			return wrapSyscallError(err, "closing "+u.path)
		}
	}
	return nil
}
