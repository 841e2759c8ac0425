package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blecast/internal/groutine"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Pick a nearby device and deliver media while connected",
		Long: `Scan for peripherals and keep a numbered list of them on screen. Type a number
to connect to that device; while the connection lasts the configured media clip
is played at the delivery interval. Type 's' to start a new scan, 'q' to quit.`,
		Args: cobra.NoArgs,
		RunE: runInteractive,
	}
	cmd.Flags().String("media", "", "WAV file to play on each delivery")
	cmd.Flags().Duration("interval", 0, "Delivery interval (default from config, 30s)")
	cmd.Flags().Duration("connect-timeout", 0, "Give up on a connection attempt after this long (0 waits forever)")
	cmd.Flags().Bool("auto-scan", true, "Start scanning whenever Bluetooth powers on")
	return cmd
}

func runInteractive(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("media") {
		cfg.Delivery.Media, _ = flags.GetString("media")
	}
	if flags.Changed("interval") {
		cfg.Delivery.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout, _ = flags.GetDuration("connect-timeout")
	}
	if flags.Changed("auto-scan") {
		cfg.AutoScan, _ = flags.GetBool("auto-scan")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	sess, err := openSession(cfg, cfg.AutoScan, logger)
	if err != nil {
		return fmt.Errorf("failed to create radio adapter: %w", err)
	}

	ctx, cancel := withInterrupt(cmd.Context(), cmd.ErrOrStderr(), "exiting")
	defer cancel()

	sub := sess.ctrl.Surface().Subscribe()
	defer sub.Close()

	sess.start(ctx)
	if !cfg.AutoScan {
		if err := sess.ctrl.StartScanning(ctx); err != nil {
			_ = sess.stop()
			return err
		}
	}

	out := cmd.OutOrStdout()
	p := newPalette(isTerminal(out))
	lines := readLines(ctx, cmd.InOrStdin())

	for {
		select {
		case <-ctx.Done():
			return sess.stop()
		case <-sess.done:
			return sess.stop()
		case u := <-sub.C():
			renderState(out, u.State, p)
		case line, ok := <-lines:
			if !ok {
				return sess.stop()
			}
			quit, err := handleInput(ctx, sess.ctrl, line)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return sess.stop()
				}
				fmt.Fprintln(out, p.fail.Sprint(FormatUserError(err)))
			}
			if quit {
				return sess.stop()
			}
		}
	}
}

// commander is the part of the controller driven by user input.
type commander interface {
	StartScanning(ctx context.Context) error
	Connect(ctx context.Context, index int) error
}

// handleInput executes one line of user input.
func handleInput(ctx context.Context, c commander, line string) (quit bool, err error) {
	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "":
		return false, nil
	case "q", "quit", "exit":
		return true, nil
	case "s", "scan":
		return false, c.StartScanning(ctx)
	default:
		index, err := strconv.Atoi(cmd)
		if err != nil {
			return false, fmt.Errorf("unknown command %q", cmd)
		}
		return false, c.Connect(ctx, index)
	}
}

// readLines streams lines from r until EOF. The reader goroutine may outlive ctx
// while blocked on a read.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	groutine.Go(ctx, "stdin-reader", func(ctx context.Context) {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	})
	return lines
}
