package session

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Lockstep/internal/observer"
	"github.com/BioHazard786/Lockstep/internal/playback"
	"github.com/BioHazard786/Lockstep/internal/player"
	"github.com/BioHazard786/Lockstep/internal/signaling"
	"github.com/BioHazard786/Lockstep/internal/webrtc"
)

// DefaultPingInterval is how often the master measures latency.
const DefaultPingInterval = 5 * time.Second

const maxHistory = 32

// Signaler sends messages through the rendezvous server.
type Signaler interface {
	SendMessage(msg *signaling.Message) error
}

// Notifier receives UI-facing events.
type Notifier interface {
	Notify(observer.Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(observer.Event) {}

// Options configures a Negotiator.
type Options struct {
	Factory  webrtc.Factory
	Signaler Signaler
	Player   player.Player
	Notifier Notifier
	Clock    clockwork.Clock
	Logger   *slog.Logger

	PingInterval time.Duration
	StartDelay   time.Duration

	// OffsetEstimation lets the slave estimate the master clock offset from
	// the latency carried in pings. When false the offset is zero.
	OffsetEstimation bool
}

// syncHandler processes one control frame for a Session.
type syncHandler func(s *Session, data []byte, fx *effects) error

// Negotiator owns at most one Session at a time and drives it through
// negotiation, the sync channel and synchronized playback.
//
// Peer channel callbacks arrive on arbitrary goroutines. Every callback is
// bound to the Session that registered it and is ignored once that Session
// is no longer current.
type Negotiator struct {
	mu       sync.Mutex
	clientID string
	current  *Session
	history  []Summary

	factory          webrtc.Factory
	signaler         Signaler
	player           player.Player
	notifier         Notifier
	clock            clockwork.Clock
	logger           *slog.Logger
	pingInterval     time.Duration
	startDelay       time.Duration
	offsetEstimation bool

	handlers map[string]syncHandler
}

// New creates a Negotiator.
func New(opts Options) *Negotiator {
	n := &Negotiator{
		factory:          opts.Factory,
		signaler:         opts.Signaler,
		player:           opts.Player,
		notifier:         opts.Notifier,
		clock:            opts.Clock,
		logger:           opts.Logger,
		pingInterval:     opts.PingInterval,
		startDelay:       opts.StartDelay,
		offsetEstimation: opts.OffsetEstimation,
	}
	if n.notifier == nil {
		n.notifier = noopNotifier{}
	}
	if n.clock == nil {
		n.clock = clockwork.NewRealClock()
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.pingInterval <= 0 {
		n.pingInterval = DefaultPingInterval
	}
	if n.startDelay <= 0 {
		n.startDelay = playback.DefaultStartDelay
	}

	n.handlers = map[string]syncHandler{
		webrtc.TypePing:      n.handlePing,
		webrtc.TypePong:      n.handlePong,
		webrtc.TypeChat:      n.handleChat,
		webrtc.TypeVideoSync: n.handleVideoSync,
	}
	return n
}

// effects collects work that must run after the mutex is released.
type effects struct {
	after  []func()
	events []observer.Event
}

func (fx *effects) emit(e observer.Event) { fx.events = append(fx.events, e) }

func (fx *effects) later(fn func()) { fx.after = append(fx.after, fn) }

func (n *Negotiator) apply(fx *effects) {
	for _, fn := range fx.after {
		fn()
	}
	for _, e := range fx.events {
		n.notifier.Notify(e)
	}
}

// HandleClientID records the identity assigned by the rendezvous server.
func (n *Negotiator) HandleClientID(id string) {
	n.mu.Lock()
	n.clientID = id
	n.mu.Unlock()

	n.logger.Info("rendezvous identity assigned", "client", id)
	n.notifier.Notify(observer.ClientID(id))
}

// ClientID returns the current rendezvous identity.
func (n *Negotiator) ClientID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clientID
}

// Initiate starts a new Session as master towards peerID, replacing any
// existing Session.
func (n *Negotiator) Initiate(peerID string) error {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return WrapError("initiate", ErrInvalidPeer, "empty peer id")
	}

	fx := &effects{}
	n.mu.Lock()
	err := n.initiateLocked(peerID, fx)
	n.mu.Unlock()
	n.apply(fx)
	return err
}

func (n *Negotiator) initiateLocked(peerID string, fx *effects) error {
	if peerID == n.clientID {
		return WrapError("initiate", ErrInvalidPeer, "cannot connect to own id")
	}
	n.closeCurrentLocked("superseded", fx)

	s, err := n.openLocked(peerID, RoleMaster)
	if err != nil {
		return NewError("create peer channel", err)
	}

	stream, err := s.channel.CreateControlStream(webrtc.ControlStreamLabel)
	if err != nil {
		n.closeLocked(s, "negotiation failed", fx)
		return NewError("create control stream", err)
	}
	n.attachStreamLocked(s, stream)

	offer, err := s.channel.CreateOffer()
	if err != nil {
		n.closeLocked(s, "negotiation failed", fx)
		return NewError("create offer", err)
	}
	if err := n.sendDescriptionLocked(s, signaling.TypeOffer, offer); err != nil {
		n.closeLocked(s, "negotiation failed", fx)
		return err
	}

	s.logger.Info("offer sent")
	return nil
}

// HandleOffer answers an offer from senderID as slave, replacing any existing Session.
func (n *Negotiator) HandleOffer(payload json.RawMessage, senderID string) error {
	if senderID == "" {
		return WrapError("handle offer", ErrInvalidPeer, "offer without sender")
	}
	offer, err := decodeDescription(payload, pion.SDPTypeOffer)
	if err != nil {
		return err
	}

	fx := &effects{}
	n.mu.Lock()
	err = n.answerLocked(offer, senderID, fx)
	n.mu.Unlock()
	n.apply(fx)
	return err
}

func (n *Negotiator) answerLocked(offer pion.SessionDescription, senderID string, fx *effects) error {
	n.closeCurrentLocked("superseded", fx)

	s, err := n.openLocked(senderID, RoleSlave)
	if err != nil {
		return NewError("create peer channel", err)
	}

	if err := s.channel.SetRemoteDescription(offer); err != nil {
		n.closeLocked(s, "negotiation failed", fx)
		return NewError("apply offer", err)
	}
	n.remoteAppliedLocked(s)

	answer, err := s.channel.CreateAnswer()
	if err != nil {
		n.closeLocked(s, "negotiation failed", fx)
		return NewError("create answer", err)
	}
	if err := n.sendDescriptionLocked(s, signaling.TypeAnswer, answer); err != nil {
		n.closeLocked(s, "negotiation failed", fx)
		return err
	}

	s.logger.Info("answer sent")
	return nil
}

// HandleAnswer applies the answer to the pending master Session. Answers
// from any peer other than the one the offer went to are rejected.
func (n *Negotiator) HandleAnswer(payload json.RawMessage, senderID string) error {
	answer, err := decodeDescription(payload, pion.SDPTypeAnswer)
	if err != nil {
		return err
	}

	fx := &effects{}
	n.mu.Lock()
	err = n.applyAnswerLocked(answer, senderID, fx)
	n.mu.Unlock()
	n.apply(fx)
	return err
}

func (n *Negotiator) applyAnswerLocked(answer pion.SessionDescription, senderID string, fx *effects) error {
	s := n.current
	if s == nil || s.role != RoleMaster || s.remoteSet {
		return WrapError("handle answer", ErrNoPendingSession, "no offer awaiting an answer")
	}
	if senderID != s.peerID {
		return WrapError("handle answer", ErrNoPendingSession, "no offer sent to "+senderID)
	}

	if err := s.channel.SetRemoteDescription(answer); err != nil {
		n.closeLocked(s, "negotiation failed", fx)
		return NewError("apply answer", err)
	}
	n.remoteAppliedLocked(s)

	s.logger.Info("answer applied")
	return nil
}

// HandleCandidate adds a remote path candidate to the current Session.
// Candidates with no Session, or from a peer other than the Session's, are
// discarded; candidates that arrive before the remote description are queued.
func (n *Negotiator) HandleCandidate(payload json.RawMessage, senderID string) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var candidate pion.ICECandidateInit
	if err := json.Unmarshal(trimmed, &candidate); err != nil {
		return NewError("decode ICE candidate", err)
	}
	if candidate.Candidate == "" {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	s := n.current
	if s == nil || senderID != s.peerID {
		return nil
	}
	if !s.remoteSet {
		if len(s.remoteQueue) < maxQueuedRemote {
			s.remoteQueue = append(s.remoteQueue, candidate)
		}
		return nil
	}
	if err := s.channel.AddICECandidate(candidate); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

// Close ends the current Session, if any.
func (n *Negotiator) Close() {
	fx := &effects{}
	n.mu.Lock()
	n.closeCurrentLocked("closed locally", fx)
	n.mu.Unlock()
	n.apply(fx)
}

// Current returns a snapshot of the current Session.
func (n *Negotiator) Current() (Summary, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current == nil {
		return Summary{}, false
	}
	return n.current.summary(), true
}

// Summaries returns closed Sessions followed by the current one.
func (n *Negotiator) Summaries() []Summary {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := append([]Summary(nil), n.history...)
	if n.current != nil {
		out = append(out, n.current.summary())
	}
	return out
}

// openLocked creates a Session with a fresh peer channel and makes it current.
func (n *Negotiator) openLocked(peerID string, role Role) (*Session, error) {
	channel, err := n.factory.NewPeerChannel()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:        id,
		peerID:    peerID,
		role:      role,
		state:     StateNegotiating,
		startedAt: n.clock.Now(),
		channel:   channel,
		logger:    n.logger.With("session", id, "role", role.String(), "peer", peerID),
	}
	s.scheduler = playback.NewScheduler(n.clock, n.player, n.startDelay, s.logger, func(action string, position float64) {
		n.notifier.Notify(observer.Playback(action, position))
	})
	n.current = s

	channel.OnICECandidate(func(c pion.ICECandidateInit) { n.onLocalCandidate(s, c) })
	channel.OnControlStream(func(stream webrtc.ControlStream) { n.onRemoteStream(s, stream) })
	channel.OnClosed(func() { n.onTransportClosed(s, "peer connection closed") })

	s.logger.Info("session created")
	return s, nil
}

func (n *Negotiator) closeCurrentLocked(reason string, fx *effects) {
	if n.current != nil {
		n.closeLocked(n.current, reason, fx)
	}
}

// closeLocked moves s to Closed. Closing the channel happens after unlock.
func (n *Negotiator) closeLocked(s *Session, reason string, fx *effects) {
	if s.state == StateClosed {
		return
	}
	wasConnected := s.state == StateConnected

	s.state = StateClosed
	s.endedAt = n.clock.Now()
	if s.stopPing != nil {
		close(s.stopPing)
		s.stopPing = nil
	}
	s.scheduler.Stop()
	if n.current == s {
		n.current = nil
	}

	n.history = append(n.history, s.summary())
	if len(n.history) > maxHistory {
		n.history = n.history[len(n.history)-maxHistory:]
	}

	stream, channel := s.stream, s.channel
	fx.later(func() {
		if stream != nil {
			stream.Close()
		}
		channel.Close()
	})
	if wasConnected {
		fx.emit(observer.ConnectionStatus(observer.StatusDisconnected, s.isMaster()))
	}
	s.logger.Info("session closed", "reason", reason)
}

func (n *Negotiator) sendDescriptionLocked(s *Session, msgType string, desc *pion.SessionDescription) error {
	msg, err := signaling.NewMessage(msgType, s.peerID, desc)
	if err != nil {
		return NewError("encode "+msgType, err)
	}
	if err := n.signaler.SendMessage(msg); err != nil {
		return WrapError("send "+msgType, ErrSignalingUnavailable, err.Error())
	}

	s.descSent = true
	for _, c := range s.outbox {
		n.sendCandidateLocked(s, c)
	}
	s.outbox = nil
	return nil
}

func (n *Negotiator) sendCandidateLocked(s *Session, c pion.ICECandidateInit) {
	msg, err := signaling.NewMessage(signaling.TypeICECandidate, s.peerID, c)
	if err != nil {
		s.logger.Warn("failed to encode candidate", "error", err)
		return
	}
	if err := n.signaler.SendMessage(msg); err != nil {
		s.logger.Debug("candidate dropped", "error", err)
	}
}

func (n *Negotiator) remoteAppliedLocked(s *Session) {
	s.remoteSet = true
	for _, c := range s.remoteQueue {
		if err := s.channel.AddICECandidate(c); err != nil {
			s.logger.Warn("queued candidate rejected", "error", err)
		}
	}
	s.remoteQueue = nil
}

func (n *Negotiator) attachStreamLocked(s *Session, stream webrtc.ControlStream) {
	s.stream = stream
	stream.OnOpen(func() { n.onStreamOpen(s) })
	stream.OnClose(func() { n.onTransportClosed(s, "control stream closed") })
	stream.OnMessage(func(data []byte) { n.onFrame(s, data) })
}

func (n *Negotiator) onLocalCandidate(s *Session, c pion.ICECandidateInit) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != s {
		return
	}
	if !s.descSent {
		s.outbox = append(s.outbox, c)
		return
	}
	n.sendCandidateLocked(s, c)
}

func (n *Negotiator) onRemoteStream(s *Session, stream webrtc.ControlStream) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != s {
		return
	}
	if s.role == RoleMaster || s.stream != nil {
		s.logger.Debug("ignoring remotely announced stream", "label", stream.Label())
		return
	}
	n.attachStreamLocked(s, stream)
}

func (n *Negotiator) onStreamOpen(s *Session) {
	fx := &effects{}
	n.mu.Lock()
	if n.current == s && s.state == StateNegotiating {
		s.state = StateConnected
		if s.isMaster() {
			n.startPingLocked(s)
		}
		fx.emit(observer.ConnectionStatus(observer.StatusConnected, s.isMaster()))
		s.logger.Info("control stream open")
	}
	n.mu.Unlock()
	n.apply(fx)
}

func (n *Negotiator) onTransportClosed(s *Session, reason string) {
	fx := &effects{}
	n.mu.Lock()
	if n.current == s {
		n.closeLocked(s, reason, fx)
	}
	n.mu.Unlock()
	n.apply(fx)
}

func decodeDescription(payload json.RawMessage, want pion.SDPType) (pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return desc, NewError("decode "+want.String(), err)
	}
	if desc.Type != want {
		return desc, WrapError("decode "+want.String(), ErrUnexpectedSignal, desc.Type.String())
	}
	return desc, nil
}
