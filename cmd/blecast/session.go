package main

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/controller"
	"github.com/srg/blecast/internal/delivery"
	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/devicefactory"
	"github.com/srg/blecast/internal/groutine"
	"github.com/srg/blecast/internal/media"
	"github.com/srg/blecast/internal/observe"
	"github.com/srg/blecast/pkg/config"
)

// session owns one adapter, media sink and controller for the lifetime of a command.
type session struct {
	adapter device.Adapter
	media   io.Closer
	ctrl    *controller.Controller
	logger  *logrus.Logger

	cancel context.CancelFunc
	done   <-chan struct{}
	err    error
}

func openSession(cfg *config.Config, autoScan bool, logger *logrus.Logger) (*session, error) {
	adapter, err := devicefactory.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	sink, closer := openSink(cfg, logger)
	surface := observe.New(cfg.SubscriberBuffer, logger)
	ctrl := controller.New(adapter, sink, surface, controller.Options{
		AutoScan:         autoScan,
		ConnectTimeout:   cfg.ConnectTimeout,
		DeliveryInterval: cfg.Delivery.Interval,
	}, logger)

	return &session{
		adapter: adapter,
		media:   closer,
		ctrl:    ctrl,
		logger:  logger,
	}, nil
}

// openSink loads the configured clip. A clip that cannot be loaded is reported
// once and delivery continues silently.
func openSink(cfg *config.Config, logger *logrus.Logger) (delivery.Sink, io.Closer) {
	if cfg.Delivery.Media == "" {
		return media.Nop{}, nil
	}
	p, err := media.NewPlayer(cfg.Delivery.Media, logger)
	if err != nil {
		logger.WithError(err).Warn("Media unavailable, delivery will be silent")
		return media.Nop{}, nil
	}
	return p, p
}

// start runs the controller until ctx is cancelled or stop is called.
func (s *session) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = groutine.Go(ctx, "controller", func(ctx context.Context) {
		s.err = s.ctrl.Run(ctx)
	})
}

// stop ends the control loop and releases the radio and audio resources. It
// returns the loop's error unless it merely reflects cancellation.
func (s *session) stop() error {
	var runErr error
	if s.cancel != nil {
		s.cancel()
		<-s.done
		if !errors.Is(s.err, context.Canceled) {
			runErr = s.err
		}
	}

	if err := s.adapter.Close(); err != nil {
		s.logger.WithError(err).Debug("Failed to close radio adapter")
	}
	if s.media != nil {
		if err := s.media.Close(); err != nil {
			s.logger.WithError(err).Debug("Failed to release audio device")
		}
	}
	return runErr
}
