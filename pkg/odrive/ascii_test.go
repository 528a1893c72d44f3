package odrive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRead(t *testing.T) {
	req, err := formatRead("axis0.current_state")
	require.NoError(t, err)
	assert.Equal(t, "r axis0.current_state\n", req)

	_, err = formatRead("")
	assert.ErrorIs(t, err, ErrInvalidProperty)

	_, err = formatRead("axis0.current state")
	assert.ErrorIs(t, err, ErrInvalidProperty)
}

func TestFormatWrite(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value float64
		want  string
	}{
		{name: "integer", path: "axis0.requested_state", value: 3, want: "w axis0.requested_state 3\n"},
		{name: "fraction", path: "config.brake_resistance", value: 0.47, want: "w config.brake_resistance 0.47\n"},
		{name: "negative", path: "axis0.controller.input_torque", value: -0.125, want: "w axis0.controller.input_torque -0.125\n"},
		{name: "tiny value has no exponent", path: "axis0.motor.config.torque_constant", value: 1e-7, want: "w axis0.motor.config.torque_constant 0.0000001\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatWrite(tt.path, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := formatWrite("bad*path", 1)
	assert.ErrorIs(t, err, ErrInvalidProperty)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    float64
		wantErr error
	}{
		{name: "float", line: "24.125", want: 24.125},
		{name: "integer", line: "8", want: 8},
		{name: "padded", line: "  -1.5\r", want: -1.5},
		{name: "true", line: "True", want: 1},
		{name: "false", line: "False", want: 0},
		{name: "invalid property", line: "invalid property", wantErr: ErrInvalidProperty},
		{name: "invalid value", line: "invalid value", wantErr: ErrInvalidValue},
		{name: "invalid format", line: "invalid command format", wantErr: ErrInvalidValue},
		{name: "unknown command", line: "unknown command", wantErr: ErrUnknownCommand},
		{name: "garbage", line: "hello", wantErr: ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponse(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
