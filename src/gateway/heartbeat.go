package gateway

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// heartbeater sends heartbeats for one socket. The first beat goes out at a
// random fraction of the interval, as the HELLO documentation asks, then one
// per interval. A beat that finds the previous one unacknowledged stops the
// loop with ErrZombie.
type heartbeater struct {
	session *Session
	send    func(seq *int64) error
	jitter  func() float64
	logger  *slog.Logger
}

func newHeartbeater(session *Session, send func(seq *int64) error, logger *slog.Logger) *heartbeater {
	return &heartbeater{
		session: session,
		send:    send,
		jitter:  rand.Float64,
		logger:  logger,
	}
}

func (h *heartbeater) run(ctx context.Context, interval time.Duration) error {
	first := time.Duration(float64(interval) * h.jitter())
	h.logger.Debug("starting heartbeat", "interval", interval, "first", first)

	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if h.session.AckPending() {
				h.logger.Warn("heartbeat not acknowledged, connection is zombied")
				return ErrZombie
			}
			if err := h.beat(); err != nil {
				return err
			}
			timer.Reset(interval)
		}
	}
}

// beat sends one heartbeat with the last seen sequence. The read loop calls
// it directly when the server asks for a heartbeat.
func (h *heartbeater) beat() error {
	var seq *int64
	if s, ok := h.session.Sequence(); ok {
		seq = &s
	}
	h.session.HeartbeatSent(time.Now())
	if err := h.send(seq); err != nil {
		return err
	}
	if seq != nil {
		h.logger.Debug("heartbeat sent", "sequence", *seq)
	} else {
		h.logger.Debug("heartbeat sent", "sequence", "nil")
	}
	return nil
}
