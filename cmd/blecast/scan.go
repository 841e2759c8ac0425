package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var scanFormats = []string{"table", "json"}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for Bluetooth Low Energy peripherals for a fixed duration and print them
in discovery order. The numbers shown are the indices the run command accepts
for a session started the same way.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().DurationP("duration", "d", 10*time.Second, "Scan duration")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if !slices.Contains(scanFormats, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, scanFormats)
	}
	duration, _ := cmd.Flags().GetDuration("duration")
	if duration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", duration)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	sess, err := openSession(cfg, false, logger)
	if err != nil {
		return fmt.Errorf("failed to create radio adapter: %w", err)
	}
	sess.start(cmd.Context())

	ctx, cancel := withInterrupt(cmd.Context(), cmd.ErrOrStderr(), "cancelling scan")
	defer cancel()

	if err := sess.ctrl.StartScanning(ctx); err != nil && !errors.Is(err, context.Canceled) {
		_ = sess.stop()
		return err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-sess.done:
		return sess.stop()
	}

	snap, err := sess.ctrl.State(cmd.Context())
	if stopErr := sess.stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return err
	}
	if len(snap.Devices) == 0 && snap.LastError != nil {
		return snap.LastError
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return displayDevicesJSON(out, snap.Devices)
	}
	return displayDevicesTable(out, snap.Devices)
}

// withInterrupt returns a context cancelled on Ctrl+C or SIGTERM.
func withInterrupt(parent context.Context, w io.Writer, action string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintf(w, "\nCtrl+C pressed, %s...\n", action)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
