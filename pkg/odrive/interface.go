package odrive

import "errors"

// Device defines the interface for motor controllers (real or mocked).
// Properties are addressed by their dotted path, e.g.
// "axis0.motor.current_control.Iq_measured". Booleans and enums travel as
// numbers.
type Device interface {
	Connect() error
	Close() error
	IsConnected() bool
	Read(path string) (float64, error)
	Write(path string, value float64) error
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)

var (
	ErrNotConnected     = errors.New("odrive: not connected")
	ErrAlreadyConnected = errors.New("odrive: already connected")
	ErrNotFound         = errors.New("odrive: no device found")
	ErrInvalidProperty  = errors.New("odrive: invalid property")
	ErrInvalidValue     = errors.New("odrive: invalid value")
	ErrUnknownCommand   = errors.New("odrive: unknown command")
	ErrTimeout          = errors.New("odrive: timeout")
	ErrCalibration      = errors.New("odrive: calibration failed")
	ErrVerify           = errors.New("odrive: write verification failed")
)
