package odrive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itohio/ffsweep/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort speaks the ASCII protocol on behalf of a Mock.
type fakePort struct {
	dev Device

	mu     sync.Mutex
	in     bytes.Buffer // Bytes written by the client, not yet parsed
	out    bytes.Buffer // Responses waiting to be read
	lines  []string     // Requests received
	silent bool         // Never answer reads
	closed bool
}

func newFakePort(t *testing.T) (*fakePort, *Mock) {
	t.Helper()
	cfg := config.Default().Mock
	cfg.NoiseLevel = 0
	mock := NewMock(&cfg)
	require.NoError(t, mock.Connect())
	return &fakePort{dev: mock}, mock
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.in.Write(b)
	for {
		line, err := p.in.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			p.in.Reset()
			p.in.WriteString(line)
			break
		}
		p.handle(strings.TrimSpace(line))
	}
	return len(b), nil
}

func (p *fakePort) handle(line string) {
	p.lines = append(p.lines, line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch {
	case fields[0] == "r" && len(fields) == 2:
		if p.silent {
			return
		}
		v, err := p.dev.Read(fields[1])
		if err != nil {
			p.respondError(err)
			return
		}
		p.out.WriteString(strconv.FormatFloat(v, 'f', -1, 64) + "\r\n")
	case fields[0] == "w" && len(fields) == 3:
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			p.out.WriteString(respInvalidValue + "\r\n")
			return
		}
		if err := p.dev.Write(fields[1], v); err != nil {
			p.respondError(err)
		}
	default:
		p.out.WriteString(respUnknownCommand + "\r\n")
	}
}

func (p *fakePort) respondError(err error) {
	switch {
	case errors.Is(err, ErrInvalidProperty):
		p.out.WriteString(respInvalidProperty + "\r\n")
	default:
		p.out.WriteString(respInvalidValue + "\r\n")
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.EOF
	}
	if p.out.Len() == 0 {
		p.mu.Unlock()
		// Behave like a serial port with a short read timeout.
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer p.mu.Unlock()
	return p.out.Read(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

func TestSerial_ReadWrite(t *testing.T) {
	port, _ := newFakePort(t)
	d := newWithConn(port, 100*time.Millisecond)

	vbus, err := d.Read("vbus_voltage")
	require.NoError(t, err)
	assert.InDelta(t, 24.0, vbus, 1e-6)

	require.NoError(t, d.Write("axis0.controller.config.vel_limit", 150))
	v, err := d.Read("axis0.controller.config.vel_limit")
	require.NoError(t, err)
	assert.Equal(t, 150.0, v)

	assert.Equal(t, []string{
		"r vbus_voltage",
		"w axis0.controller.config.vel_limit 150",
		"r axis0.controller.config.vel_limit",
	}, port.requests())
}

func TestSerial_ReadErrors(t *testing.T) {
	port, _ := newFakePort(t)
	d := newWithConn(port, 100*time.Millisecond)

	_, err := d.Read("axis0.no_such_thing")
	assert.ErrorIs(t, err, ErrInvalidProperty)

	// The connection stays usable after an error line.
	_, err = d.Read("vbus_voltage")
	assert.NoError(t, err)
}

func TestSerial_RejectedWriteSurfacesOnNextRead(t *testing.T) {
	port, _ := newFakePort(t)
	d := newWithConn(port, 100*time.Millisecond)

	// Writes are not acknowledged, so a rejected write returns no error itself.
	require.NoError(t, d.Write("axis0.current_state", 8))

	v, err := d.Read("vbus_voltage")
	assert.ErrorIs(t, err, ErrInvalidProperty)
	assert.Contains(t, err.Error(), "axis0.current_state")
	assert.InDelta(t, 24.0, v, 1e-6)

	// Already reported.
	_, err = d.Read("vbus_voltage")
	assert.NoError(t, err)
}

func TestSerial_RejectedReadAfterAcceptedWrite(t *testing.T) {
	port, _ := newFakePort(t)
	d := newWithConn(port, 50*time.Millisecond)

	require.NoError(t, d.Write("axis0.controller.input_torque", 0.1))

	// The only error line answers the read, not the accepted write.
	_, err := d.Read("axis0.no_such_thing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidProperty)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "read axis0.no_such_thing")
	assert.NotContains(t, err.Error(), "input_torque")

	v, err := d.Read("axis0.controller.input_torque")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, v, 1e-6)
}

func TestSerial_Timeout(t *testing.T) {
	port, _ := newFakePort(t)
	port.silent = true
	d := newWithConn(port, 20*time.Millisecond)

	start := time.Now()
	_, err := d.Read("vbus_voltage")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSerial_NotConnected(t *testing.T) {
	d := New("/dev/null-port", 0, 0)
	assert.False(t, d.IsConnected())

	_, err := d.Read("vbus_voltage")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, d.Write("axis0.controller.input_torque", 0), ErrNotConnected)

	// Closing an unopened port is a no-op.
	assert.NoError(t, d.Close())
}

func TestSerial_Close(t *testing.T) {
	port, _ := newFakePort(t)
	d := newWithConn(port, 50*time.Millisecond)
	assert.True(t, d.IsConnected())

	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())
	assert.True(t, port.closed)

	_, err := d.Read("vbus_voltage")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFind(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "ttyMISSING0")
	other := filepath.Join(t.TempDir(), "ttyMISSING1")

	tests := []struct {
		name     string
		port     string
		ports    []Port
		listErr  error
		cancel   bool
		wantErr  error
		contains []string
		listed   bool
	}{
		{
			name:     "configured port missing",
			port:     missing,
			wantErr:  ErrNotFound,
			contains: []string{"failed to open serial port " + missing},
			listed:   true,
		},
		{
			name:     "falls back to enumerated ports",
			port:     missing,
			ports:    []Port{{Name: missing}, {Name: other}},
			wantErr:  ErrNotFound,
			contains: []string{missing, other},
			listed:   true,
		},
		{
			name:     "enumeration fails",
			listErr:  errors.New("no sysfs"),
			wantErr:  ErrNotFound,
			contains: []string{"no sysfs"},
			listed:   true,
		},
		{
			name:    "cancelled",
			port:    missing,
			cancel:  true,
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var listed bool
			orig := listPorts
			listPorts = func() ([]Port, error) {
				listed = true
				return tt.ports, tt.listErr
			}
			t.Cleanup(func() { listPorts = orig })

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}

			d, err := Find(ctx, config.SerialConfig{Port: tt.port, Timeout: 20 * time.Millisecond})
			assert.Nil(t, d)
			require.ErrorIs(t, err, tt.wantErr)
			for _, c := range tt.contains {
				assert.Contains(t, err.Error(), c)
			}
			assert.Equal(t, tt.listed, listed)

			// The configured port is not retried when it is also enumerated.
			if tt.port != "" && !tt.cancel {
				assert.Equal(t, 1, strings.Count(err.Error(), "failed to open serial port "+tt.port))
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New("COM3", 0, 0)
	assert.Equal(t, "COM3", d.Name())
	assert.Equal(t, DefaultBaudRate, d.baudRate)
	assert.Equal(t, DefaultTimeout, d.timeout)
}
