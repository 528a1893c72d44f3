package odrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itohio/ffsweep/pkg/config"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the UART baud rate; USB CDC ignores it.
	DefaultBaudRate = 115200
	// DefaultTimeout bounds how long a read request waits for its response.
	DefaultTimeout = 200 * time.Millisecond

	// USB identifiers of ODrive v3 boards.
	usbVID = "1209"
	usbPID = "0D32"

	// maxPendingWrites bounds the list of writes awaiting a possible error line.
	maxPendingWrites = 64

	// identifyProperty is read to tell a controller from other serial devices.
	identifyProperty = "vbus_voltage"
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
	Serial      string
	IsODrive    bool // USB VID/PID match
}

// Serial is a connection to a controller speaking the ASCII protocol.
//
// Reads are synchronous request/response. Writes are not acknowledged by the
// firmware unless they fail, so a rejected write surfaces as an error from
// the next Read.
type Serial struct {
	port     string
	baudRate int
	timeout  time.Duration

	conn      io.ReadWriteCloser
	mu        sync.Mutex
	connected bool

	rx      []byte
	chunk   [256]byte
	pending []string // Paths written since the last read
}

// New creates a new Serial instance with the specified port, baud rate and
// response timeout.
func New(port string, baudRate int, timeout time.Duration) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Serial{
		port:     port,
		baudRate: baudRate,
		timeout:  timeout,
	}
}

// newWithConn wraps an already open stream.
func newWithConn(conn io.ReadWriteCloser, timeout time.Duration) *Serial {
	d := New("", 0, timeout)
	d.conn = conn
	d.connected = true
	return d
}

// Ports returns a list of available serial ports, ODrive boards first.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// Fall back to the plain list when USB details are unavailable.
		names, lerr := serial.GetPortsList()
		if lerr != nil {
			return nil, fmt.Errorf("failed to list serial ports: %w", lerr)
		}
		result := make([]Port, 0, len(names))
		for _, name := range names {
			result = append(result, Port{Name: name, Description: name})
		}
		return result, nil
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		p := Port{
			Name:        d.Name,
			Description: d.Name,
		}
		if d.IsUSB {
			p.Serial = d.SerialNumber
			p.IsODrive = strings.EqualFold(d.VID, usbVID) && strings.EqualFold(d.PID, usbPID)
			if d.Product != "" {
				p.Description = d.Product
			}
		}
		result = append(result, p)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].IsODrive && !result[j].IsODrive
	})

	return result, nil
}

// listPorts enumerates candidate ports for Find.
var listPorts = Ports

// Find locates a responding controller, the equivalent of "find any".
// Each candidate port is opened and asked for vbus_voltage. The configured
// port is tried first, then every enumerated port, ODrive USB devices first.
// The returned error matches ErrNotFound and carries the per-port failures.
func Find(ctx context.Context, cfg config.SerialConfig) (*Serial, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		candidates []string
		errs       []error
	)
	if cfg.Port != "" {
		candidates = append(candidates, cfg.Port)
	}
	ports, err := listPorts()
	if err != nil {
		errs = append(errs, err)
	}
	for _, p := range ports {
		if p.Name != cfg.Port {
			candidates = append(candidates, p.Name)
		}
	}

	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d := New(name, cfg.BaudRate, cfg.Timeout)
		if err := d.Connect(); err != nil {
			errs = append(errs, err)
			continue
		}
		vbus, err := d.Read(identifyProperty)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			d.Close()
			continue
		}
		if name != cfg.Port && cfg.Port != "" {
			log.Printf("Configured port %s did not respond", cfg.Port)
		}
		log.Printf("Found controller on %s (vbus %.2f V)", name, vbus)
		return d, nil
	}

	return nil, errors.Join(append([]error{ErrNotFound}, errs...)...)
}

// Name returns the serial port name.
func (d *Serial) Name() string {
	return d.port
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return ErrAlreadyConnected
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	// Short read slices; the request deadline is enforced in readLine.
	if err := port.SetReadTimeout(d.timeout / 4); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", d.port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("Error flushing serial port %s: %v", d.port, err)
	}

	d.conn = port
	d.connected = true
	d.rx = d.rx[:0]
	d.pending = d.pending[:0]

	return nil
}

// Close closes the connection.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}

	d.connected = false

	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Read requests a property value and waits for the response line.
func (d *Serial) Read(path string) (float64, error) {
	req, err := formatRead(path)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return 0, ErrNotConnected
	}

	if _, err := io.WriteString(d.conn, req); err != nil {
		return 0, fmt.Errorf("failed to send read request for %s: %w", path, err)
	}

	deadline := time.Now().Add(d.timeout)
	var rejected []rejection
	for {
		line, err := d.readLine(deadline)
		if errors.Is(err, ErrTimeout) && len(rejected) > 0 {
			// No value line came, so the last error line answered this read
			// and the write it was charged to went through.
			last := rejected[len(rejected)-1]
			return 0, errors.Join(fmt.Errorf("read %s: %w", path, last.cause), joinRejected(rejected[:len(rejected)-1]))
		}
		if err != nil {
			return 0, errors.Join(fmt.Errorf("read %s: %w", path, err), joinRejected(rejected))
		}
		if line == "" {
			continue
		}

		// Error lines arriving while writes are outstanding belong to those writes.
		if rerr := responseError(line); rerr != nil && len(d.pending) > 0 {
			rejected = append(rejected, rejection{path: d.pending[0], cause: rerr})
			d.pending = d.pending[1:]
			continue
		}
		d.pending = d.pending[:0]

		v, err := parseResponse(line)
		if err != nil {
			return 0, errors.Join(fmt.Errorf("read %s: %w", path, err), joinRejected(rejected))
		}
		return v, joinRejected(rejected)
	}
}

// rejection is an error line attributed to a pending write.
type rejection struct {
	path  string
	cause error
}

func joinRejected(rs []rejection) error {
	var err error
	for _, r := range rs {
		err = errors.Join(err, fmt.Errorf("write %s rejected: %w", r.path, r.cause))
	}
	return err
}

// Write sends a property assignment. The firmware only answers on failure.
func (d *Serial) Write(path string, value float64) error {
	req, err := formatWrite(path, value)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return ErrNotConnected
	}

	if _, err := io.WriteString(d.conn, req); err != nil {
		return fmt.Errorf("failed to send write request for %s: %w", path, err)
	}

	if len(d.pending) >= maxPendingWrites {
		d.pending = d.pending[1:]
	}
	d.pending = append(d.pending, path)

	return nil
}

// readLine returns the next newline terminated line, without the terminator.
// Must be called with d.mu held.
func (d *Serial) readLine(deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(d.rx, '\n'); i >= 0 {
			line := strings.TrimRight(string(d.rx[:i]), "\r")
			d.rx = append(d.rx[:0], d.rx[i+1:]...)
			return strings.TrimSpace(line), nil
		}

		if time.Now().After(deadline) {
			return "", ErrTimeout
		}

		n, err := d.conn.Read(d.chunk[:])
		if n > 0 {
			d.rx = append(d.rx, d.chunk[:n]...)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read from serial port: %w", err)
		}
	}
}
