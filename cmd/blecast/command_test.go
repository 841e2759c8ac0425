package main

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/devicefactory"
	"github.com/srg/blecast/internal/testutils"
	"github.com/srg/blecast/pkg/config"
)

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// useAdapter makes every command in the test run against fa.
func useAdapter(t *testing.T, fa device.Adapter) {
	t.Helper()
	orig := devicefactory.New
	devicefactory.New = func(*config.Config, *logrus.Logger) (device.Adapter, error) {
		return fa, nil
	}
	t.Cleanup(func() { devicefactory.New = orig })
}

// poweredAdapter powers on when started and reports devices on every scan.
// Further expectations can be added before WithDefaults.
func poweredAdapter(t *testing.T, devices ...device.Device) *testutils.FakeAdapter {
	fa := testutils.NewFakeAdapter(t)
	fa.On("Start", mock.Anything).Run(func(mock.Arguments) {
		go fa.Emit(device.PowerChanged(true))
	}).Return(nil)
	fa.On("Scan").Run(func(mock.Arguments) {
		go func() {
			for _, d := range devices {
				fa.Emit(device.Discovered(d))
			}
		}()
	}).Return(nil)
	return fa
}

// executeCommand runs the root command with args and returns stdout and stderr.
func executeCommand(in io.Reader, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(in)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
