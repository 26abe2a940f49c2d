package device

import "errors"

// Errors for device operations
var (
	ErrNoDevices      = errors.New("no SAA716x devices found")
	ErrRemoved        = errors.New("device is removed")
	ErrServing        = errors.New("device is already serving interrupts")
	ErrUnsupportedIRQ = errors.New("interrupt mode not supported by this line")
)
