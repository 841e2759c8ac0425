package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blecast/internal/observe"
	"github.com/srg/blecast/internal/testutils"
)

func TestRenderState(t *testing.T) {
	tests := []struct {
		name     string
		state    observe.State
		expected string
	}{
		{
			name:  "powered off",
			state: observe.State{Phase: "idle", LastError: "adapter unavailable"},
			expected: `
Bluetooth: off, idle
  (no devices)
Error: adapter unavailable
` + promptLine,
		},
		{
			name: "connected",
			state: observe.State{
				DeviceNames:   []string{"Speaker", "Unknown Device"},
				Connected:     true,
				ConnectedName: "Speaker",
				Phase:         "connected",
				Powered:       true,
			},
			expected: `
Bluetooth: on, connected
  [0] Speaker
  [1] Unknown Device
Connected: Speaker
` + promptLine,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderState(&buf, tt.state, newPalette(false))
			testutils.NewTextAsserter(t).Assert(buf.String(), tt.expected)
		})
	}
}

func TestNewPalette_Enabled(t *testing.T) {
	p := newPalette(true)
	assert.NotEqual(t, "on", p.ok.Sprint("on"))
	assert.Contains(t, p.ok.Sprint("on"), "on")
}

func TestIsTerminal_Buffer(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}
