package driver

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Status represents a driver operation status code
type Status int

const (
	StatusSuccess               Status = 0
	StatusUninitialized         Status = 1
	StatusInvalidArgument       Status = 2
	StatusOutOfHostMemory       Status = 3
	StatusTimeout               Status = 4
	StatusInvalidOperation      Status = 5
	StatusNotFound              Status = 6
	StatusInternalFailure       Status = 7
	StatusDriverOperationFailed Status = 8
	StatusDriverInterrupted     Status = 9
	StatusDriverWaitCanceled    Status = 10
	StatusDeviceGone            Status = 11
	StatusPermissionDenied      Status = 12
	StatusBusy                  Status = 13
	StatusInvalidRegisterValue  Status = 14
	StatusUnsupportedMode       Status = 15
)

var statusMessages = map[Status]string{
	StatusSuccess:               "success",
	StatusUninitialized:         "uninitialized",
	StatusInvalidArgument:       "invalid argument",
	StatusOutOfHostMemory:       "out of host memory",
	StatusTimeout:               "timeout",
	StatusInvalidOperation:      "invalid operation",
	StatusNotFound:              "not found",
	StatusInternalFailure:       "internal failure",
	StatusDriverOperationFailed: "driver operation failed",
	StatusDriverInterrupted:     "driver interrupted",
	StatusDriverWaitCanceled:    "driver wait canceled",
	StatusDeviceGone:            "device not responding",
	StatusPermissionDenied:      "permission denied",
	StatusBusy:                  "device busy",
	StatusInvalidRegisterValue:  "invalid register value",
	StatusUnsupportedMode:       "unsupported interrupt mode",
}

// String returns the human-readable status message
func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

// DeviceError is an error from register access or the kernel interfaces backing it
type DeviceError struct {
	Status  Status
	Context string
	Cause   error
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Context, e.Status.String(), e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Context, e.Status.String())
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Status.String(), e.Cause)
	}
	return e.Status.String()
}

// Unwrap returns the underlying cause
func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// Is matches any DeviceError carrying the same status
func (e *DeviceError) Is(target error) bool {
	var devErr *DeviceError
	if errors.As(target, &devErr) {
		return e.Status == devErr.Status
	}
	return false
}

// NewError creates a new DeviceError with the given status
func NewError(status Status, context string) *DeviceError {
	return &DeviceError{
		Status:  status,
		Context: context,
	}
}

// NewErrorWithCause creates a new DeviceError with an underlying cause
func NewErrorWithCause(status Status, context string, cause error) *DeviceError {
	return &DeviceError{
		Status:  status,
		Context: context,
		Cause:   cause,
	}
}

// ErrDeviceGone is returned when a register read yields the all-ones pattern
var ErrDeviceGone = NewError(StatusDeviceGone, "")

// ErrnoToStatus converts a Linux errno to a Status
func ErrnoToStatus(errno unix.Errno) Status {
	switch errno {
	case unix.ENOMEM:
		return StatusOutOfHostMemory
	case unix.EFAULT:
		return StatusInvalidOperation
	case unix.ETIMEDOUT:
		return StatusTimeout
	case unix.EINTR:
		return StatusDriverInterrupted
	case unix.ECANCELED:
		return StatusDriverWaitCanceled
	case unix.ENOENT, unix.ENODEV, unix.ENXIO:
		return StatusNotFound
	case unix.EIO:
		return StatusDeviceGone
	case unix.EACCES, unix.EPERM:
		return StatusPermissionDenied
	case unix.EBUSY:
		return StatusBusy
	case unix.EINVAL:
		return StatusInvalidArgument
	default:
		return StatusDriverOperationFailed
	}
}

// StatusFromErrno creates a DeviceError from an errno
func StatusFromErrno(errno unix.Errno, context string) *DeviceError {
	return &DeviceError{
		Status:  ErrnoToStatus(errno),
		Context: context,
		Cause:   errno,
	}
}

// wrapSyscallError turns a syscall error into a DeviceError
func wrapSyscallError(err error, context string) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return StatusFromErrno(errno, context)
	}
	return NewErrorWithCause(StatusDriverOperationFailed, context, err)
}
