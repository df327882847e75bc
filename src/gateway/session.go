package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session holds what survives between connection attempts of one gateway
// session. The heartbeat goroutine and the read loop share it, so every field
// is either atomic or behind mu.
type Session struct {
	mu        sync.RWMutex
	id        string
	resumeURL string
	resumable bool

	sequence          atomic.Int64
	heartbeatInterval atomic.Int64
	ackPending        atomic.Bool
	lastHeartbeatSent atomic.Int64
	latency           atomic.Int64
}

func NewSession() *Session {
	s := &Session{}
	s.sequence.Store(-1)
	return s
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) ResumeURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumeURL
}

// Start records the identity handed out by READY.
func (s *Session) Start(id, resumeURL string) {
	s.mu.Lock()
	s.id = id
	s.resumeURL = resumeURL
	s.resumable = true
	s.mu.Unlock()
}

// Reset forgets the session so the next connection identifies from scratch.
func (s *Session) Reset() {
	s.mu.Lock()
	s.id = ""
	s.resumeURL = ""
	s.resumable = false
	s.mu.Unlock()
	s.sequence.Store(-1)
}

// CanResume reports whether a RESUME has what it needs.
func (s *Session) CanResume() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumable && s.id != "" && s.sequence.Load() >= 0
}

// Sequence returns the last dispatch sequence, if one has been seen.
func (s *Session) Sequence() (int64, bool) {
	seq := s.sequence.Load()
	return seq, seq >= 0
}

func (s *Session) SetSequence(seq int64) {
	s.sequence.Store(seq)
}

func (s *Session) HeartbeatInterval() time.Duration {
	return time.Duration(s.heartbeatInterval.Load())
}

func (s *Session) SetHeartbeatInterval(interval time.Duration) {
	s.heartbeatInterval.Store(int64(interval))
}

func (s *Session) AckPending() bool {
	return s.ackPending.Load()
}

// HeartbeatSent marks a heartbeat as awaiting its ACK.
func (s *Session) HeartbeatSent(at time.Time) {
	s.lastHeartbeatSent.Store(at.UnixNano())
	s.ackPending.Store(true)
}

// Acknowledge clears the pending flag and records the round trip.
func (s *Session) Acknowledge(at time.Time) {
	if s.ackPending.Swap(false) {
		sent := s.lastHeartbeatSent.Load()
		s.latency.Store(at.UnixNano() - sent)
	}
}

// clearAck is used when a new socket starts; acks owed by the old one no
// longer matter.
func (s *Session) clearAck() {
	s.ackPending.Store(false)
}

func (s *Session) Latency() time.Duration {
	return time.Duration(s.latency.Load())
}
