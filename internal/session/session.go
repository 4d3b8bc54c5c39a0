package session

import (
	"log/slog"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Lockstep/internal/playback"
	"github.com/BioHazard786/Lockstep/internal/webrtc"
)

// Role is fixed for a Session's lifetime.
type Role int

const (
	RoleMaster Role = iota + 1
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	}
	return "unknown"
}

// State of a Session. There is no transition out of StateClosed.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	offsetWindow      = 8
	maxPendingPings   = 16
	maxQueuedRemote   = 64
	maxLatencySamples = 256
)

// LatencySample is one completed ping/pong exchange.
type LatencySample struct {
	At      time.Time
	RTT     time.Duration
	Latency time.Duration
}

// Session is one peer pairing. All fields are guarded by the owning
// Negotiator's mutex.
type Session struct {
	id        string
	peerID    string
	role      Role
	state     State
	startedAt time.Time
	endedAt   time.Time

	channel webrtc.PeerChannel
	stream  webrtc.ControlStream

	latency  *time.Duration
	samples  []LatencySample
	offsets  []time.Duration
	timeDiff time.Duration
	pending  []float64

	// Remote candidates received before the remote description.
	remoteSet   bool
	remoteQueue []pion.ICECandidateInit

	// Local candidates gathered before our description was sent.
	descSent bool
	outbox   []pion.ICECandidateInit

	scheduler *playback.Scheduler
	stopPing  chan struct{}
	logger    *slog.Logger
}

// Summary is a read-only snapshot of a Session.
type Summary struct {
	ID        string
	PeerID    string
	Role      Role
	State     State
	StartedAt time.Time
	EndedAt   time.Time
	Latency   *time.Duration
	TimeDiff  time.Duration
	Samples   []LatencySample
}

func (s *Session) summary() Summary {
	sum := Summary{
		ID:        s.id,
		PeerID:    s.peerID,
		Role:      s.role,
		State:     s.state,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
		TimeDiff:  s.timeDiff,
		Samples:   append([]LatencySample(nil), s.samples...),
	}
	if s.latency != nil {
		l := *s.latency
		sum.Latency = &l
	}
	return sum
}

func (s *Session) isMaster() bool { return s.role == RoleMaster }

// addPending remembers a sent ping timestamp, forgetting the oldest beyond the limit.
func (s *Session) addPending(ts float64) {
	s.pending = append(s.pending, ts)
	if len(s.pending) > maxPendingPings {
		s.pending = s.pending[len(s.pending)-maxPendingPings:]
	}
}

// takePending reports whether ts was sent by this session and forgets it.
func (s *Session) takePending(ts float64) bool {
	for i, p := range s.pending {
		if p == ts {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) recordLatency(sample LatencySample) {
	latency := sample.Latency
	s.latency = &latency
	s.samples = append(s.samples, sample)
	if len(s.samples) > maxLatencySamples {
		s.samples = s.samples[len(s.samples)-maxLatencySamples:]
	}
}

// recordOffset adds a clock offset sample and returns the windowed mean.
func (s *Session) recordOffset(offset time.Duration) time.Duration {
	s.offsets = append(s.offsets, offset)
	if len(s.offsets) > offsetWindow {
		s.offsets = s.offsets[len(s.offsets)-offsetWindow:]
	}
	var sum time.Duration
	for _, o := range s.offsets {
		sum += o
	}
	s.timeDiff = sum / time.Duration(len(s.offsets))
	return s.timeDiff
}
