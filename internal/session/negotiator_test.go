package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Lockstep/internal/observer"
	"github.com/BioHazard786/Lockstep/internal/player"
	"github.com/BioHazard786/Lockstep/internal/signaling"
	"github.com/BioHazard786/Lockstep/internal/webrtc"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type fakeStream struct {
	label string

	mu        sync.Mutex
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
	sent      []string
	closed    bool
}

func (s *fakeStream) Label() string { return s.label }

func (s *fakeStream) OnOpen(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = fn
}

func (s *fakeStream) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

func (s *fakeStream) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

func (s *fakeStream) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) open() {
	s.mu.Lock()
	fn := s.onOpen
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *fakeStream) remoteClose() {
	s.mu.Lock()
	fn := s.onClose
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *fakeStream) receive(frame string) {
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn([]byte(frame))
	}
}

func (s *fakeStream) frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeChannel struct {
	mu           sync.Mutex
	created      []*fakeStream
	remote       []pion.SessionDescription
	candidates   []pion.ICECandidateInit
	onCandidate  func(pion.ICECandidateInit)
	onStream     func(webrtc.ControlStream)
	onClosed     func()
	closed       bool
	failOffer    bool
	failRemote   bool
	sdpSignature string
}

func (c *fakeChannel) CreateControlStream(label string) (webrtc.ControlStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeStream{label: label}
	c.created = append(c.created, s)
	return s, nil
}

func (c *fakeChannel) CreateOffer() (*pion.SessionDescription, error) {
	if c.failOffer {
		return nil, errors.New("no codecs")
	}
	return &pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0 offer " + c.sdpSignature}, nil
}

func (c *fakeChannel) CreateAnswer() (*pion.SessionDescription, error) {
	return &pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0 answer " + c.sdpSignature}, nil
}

func (c *fakeChannel) SetRemoteDescription(desc pion.SessionDescription) error {
	if c.failRemote {
		return errors.New("bad sdp")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = append(c.remote, desc)
	return nil
}

func (c *fakeChannel) AddICECandidate(candidate pion.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeChannel) OnICECandidate(fn func(pion.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *fakeChannel) OnControlStream(fn func(webrtc.ControlStream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStream = fn
}

func (c *fakeChannel) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) gather(candidate string) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	fn(pion.ICECandidateInit{Candidate: candidate})
}

func (c *fakeChannel) announce(s *fakeStream) {
	c.mu.Lock()
	fn := c.onStream
	c.mu.Unlock()
	fn(s)
}

func (c *fakeChannel) fail() {
	c.mu.Lock()
	fn := c.onClosed
	c.mu.Unlock()
	fn()
}

func (c *fakeChannel) stream() *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.created) == 0 {
		return nil
	}
	return c.created[0]
}

func (c *fakeChannel) addedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		out[i] = cand.Candidate
	}
	return out
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	mu       sync.Mutex
	channels []*fakeChannel
	next     func(c *fakeChannel)
}

func (f *fakeFactory) NewPeerChannel() (webrtc.PeerChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeChannel{sdpSignature: fmt.Sprint(len(f.channels))}
	if f.next != nil {
		f.next(c)
	}
	f.channels = append(f.channels, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[len(f.channels)-1]
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []*signaling.Message
	err  error
}

func (s *fakeSignaler) SendMessage(msg *signaling.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSignaler) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.Type + ">" + m.Target
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []observer.Event
}

func (l *eventLog) Notify(e observer.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t string) []observer.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []observer.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	n        *Negotiator
	factory  *fakeFactory
	signaler *fakeSignaler
	events   *eventLog
	clock    *clockwork.FakeClock
	player   *player.Virtual
}

func newHarness(t *testing.T, offsetEstimation bool) *harness {
	t.Helper()
	h := &harness{
		factory:  &fakeFactory{},
		signaler: &fakeSignaler{},
		events:   &eventLog{},
		clock:    clockwork.NewFakeClockAt(epoch),
	}
	h.player = player.NewVirtual(h.clock)
	h.n = New(Options{
		Factory:          h.factory,
		Signaler:         h.signaler,
		Player:           h.player,
		Notifier:         h.events,
		Clock:            h.clock,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		OffsetEstimation: offsetEstimation,
	})
	h.n.HandleClientID("calm-otter-ramen")
	t.Cleanup(h.n.Close)
	return h
}

// connectMaster initiates towards peer and completes negotiation.
func (h *harness) connectMaster(t *testing.T, peer string) (*fakeChannel, *fakeStream) {
	t.Helper()
	if err := h.n.Initiate(peer); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	c := h.factory.last()
	if err := h.n.HandleAnswer(json.RawMessage(`{"type":"answer","sdp":"v=0"}`), peer); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	s := c.stream()
	s.open()
	return c, s
}

// connectSlave answers an offer from peer and opens the announced stream.
func (h *harness) connectSlave(t *testing.T, peer string) (*fakeChannel, *fakeStream) {
	t.Helper()
	if err := h.n.HandleOffer(json.RawMessage(`{"type":"offer","sdp":"v=0"}`), peer); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	c := h.factory.last()
	s := &fakeStream{label: webrtc.ControlStreamLabel}
	c.announce(s)
	s.open()
	return c, s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func state(n *Negotiator) State {
	sum, ok := n.Current()
	if !ok {
		return StateClosed
	}
	return sum.State
}

func TestInitiateSendsOfferAndCandidates(t *testing.T) {
	h := newHarness(t, false)

	if err := h.n.Initiate("  brave-lynx-taco "); err != nil {
		t.Fatal(err)
	}
	c := h.factory.last()
	if c.stream() == nil || c.stream().Label() != webrtc.ControlStreamLabel {
		t.Fatalf("master did not create the control stream")
	}
	c.gather("candidate:1 1 udp 1 10.0.0.1 5000 typ host")

	got := h.signaler.types()
	want := []string{"offer>brave-lynx-taco", "ice-candidate>brave-lynx-taco"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("signals = %v, want %v", got, want)
	}

	var offer pion.SessionDescription
	if err := json.Unmarshal(h.signaler.sent[0].Data, &offer); err != nil {
		t.Fatal(err)
	}
	if offer.Type != pion.SDPTypeOffer || !strings.HasPrefix(offer.SDP, "v=0") {
		t.Errorf("offer = %+v", offer)
	}

	sum, ok := h.n.Current()
	if !ok || sum.Role != RoleMaster || sum.State != StateNegotiating || sum.PeerID != "brave-lynx-taco" {
		t.Errorf("current = %+v", sum)
	}
}

func TestInitiateRejectsInvalidPeer(t *testing.T) {
	h := newHarness(t, false)

	for _, id := range []string{"", "   ", "calm-otter-ramen"} {
		if err := h.n.Initiate(id); !errors.Is(err, ErrInvalidPeer) {
			t.Errorf("Initiate(%q) error = %v", id, err)
		}
	}
	if len(h.factory.channels) != 0 {
		t.Errorf("channels created for invalid peers")
	}
}

func TestInitiateFailsWithoutSignaling(t *testing.T) {
	h := newHarness(t, false)
	h.signaler.err = errors.New("not connected")

	err := h.n.Initiate("brave-lynx-taco")
	if !errors.Is(err, ErrSignalingUnavailable) {
		t.Fatalf("error = %v", err)
	}
	if _, ok := h.n.Current(); ok {
		t.Errorf("session left current after failed offer")
	}
	if !h.factory.last().isClosed() {
		t.Errorf("peer channel not closed")
	}
}

func TestInitiateSupersedesSession(t *testing.T) {
	h := newHarness(t, false)
	first, firstStream := h.connectMaster(t, "brave-lynx-taco")

	if err := h.n.HandleOffer(json.RawMessage(`{"type":"offer","sdp":"v=0"}`), "shy-koala-pho"); err != nil {
		t.Fatal(err)
	}
	if !first.isClosed() || !firstStream.isClosed() {
		t.Errorf("previous session resources not closed")
	}

	sum, _ := h.n.Current()
	if sum.Role != RoleSlave || sum.PeerID != "shy-koala-pho" {
		t.Errorf("current = %+v", sum)
	}
	if got := h.events.ofType(observer.EventConnectionStatus); len(got) != 2 || got[1].Status != observer.StatusDisconnected {
		t.Errorf("status events = %+v", got)
	}

	// Late callbacks from the superseded session are ignored.
	firstStream.remoteClose()
	if state(h.n) != StateNegotiating {
		t.Errorf("superseded stream closed the new session")
	}

	hist := h.n.Summaries()
	if len(hist) != 2 || hist[0].State != StateClosed || hist[1].State != StateNegotiating {
		t.Errorf("summaries = %+v", hist)
	}
}

func TestSlaveUsesAnnouncedStream(t *testing.T) {
	h := newHarness(t, false)
	c, _ := h.connectSlave(t, "brave-lynx-taco")

	if c.stream() != nil {
		t.Errorf("slave created its own control stream")
	}
	if len(c.remote) != 1 || c.remote[0].Type != pion.SDPTypeOffer {
		t.Errorf("remote descriptions = %+v", c.remote)
	}
	if got := h.signaler.types(); len(got) != 1 || got[0] != "answer>brave-lynx-taco" {
		t.Errorf("signals = %v", got)
	}
	if state(h.n) != StateConnected {
		t.Fatalf("state = %v", state(h.n))
	}

	status := h.events.ofType(observer.EventConnectionStatus)
	if len(status) != 1 || status[0].Status != observer.StatusConnected || *status[0].IsMaster {
		t.Errorf("status events = %+v", status)
	}

	// A second announced stream is ignored.
	extra := &fakeStream{label: "other"}
	c.announce(extra)
	extra.remoteClose()
	if state(h.n) != StateConnected {
		t.Errorf("extra stream affected the session")
	}
}

func TestMasterIgnoresAnnouncedStream(t *testing.T) {
	h := newHarness(t, false)
	if err := h.n.Initiate("brave-lynx-taco"); err != nil {
		t.Fatal(err)
	}
	c := h.factory.last()

	remote := &fakeStream{label: webrtc.ControlStreamLabel}
	c.announce(remote)
	remote.open()
	if state(h.n) != StateNegotiating {
		t.Errorf("remote stream connected the master: %v", state(h.n))
	}
}

func TestHandleOfferValidation(t *testing.T) {
	h := newHarness(t, false)

	if err := h.n.HandleOffer(json.RawMessage(`{"type":"offer","sdp":"v=0"}`), ""); !errors.Is(err, ErrInvalidPeer) {
		t.Errorf("missing sender error = %v", err)
	}
	if err := h.n.HandleOffer(json.RawMessage(`{"type":"answer","sdp":"v=0"}`), "x"); !errors.Is(err, ErrUnexpectedSignal) {
		t.Errorf("wrong type error = %v", err)
	}
	if err := h.n.HandleOffer(json.RawMessage(`nope`), "x"); err == nil {
		t.Errorf("malformed offer accepted")
	}

	h.factory.next = func(c *fakeChannel) { c.failRemote = true }
	if err := h.n.HandleOffer(json.RawMessage(`{"type":"offer","sdp":"v=0"}`), "x"); err == nil {
		t.Errorf("rejected offer returned no error")
	}
	if _, ok := h.n.Current(); ok {
		t.Errorf("failed session left current")
	}
}

func TestHandleAnswerWithoutPendingSession(t *testing.T) {
	h := newHarness(t, false)
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)

	if err := h.n.HandleAnswer(answer, "brave-lynx-taco"); !errors.Is(err, ErrNoPendingSession) {
		t.Errorf("no session error = %v", err)
	}

	h.connectMaster(t, "brave-lynx-taco")
	if err := h.n.HandleAnswer(answer, "brave-lynx-taco"); !errors.Is(err, ErrNoPendingSession) {
		t.Errorf("duplicate answer error = %v", err)
	}
}

func TestLateAnswerFromSupersededPeer(t *testing.T) {
	h := newHarness(t, false)

	if err := h.n.Initiate("brave-lynx-taco"); err != nil {
		t.Fatal(err)
	}
	if err := h.n.Initiate("quiet-heron-mochi"); err != nil {
		t.Fatal(err)
	}
	c := h.factory.last()

	stale := json.RawMessage(`{"type":"answer","sdp":"v=0 from first peer"}`)
	if err := h.n.HandleAnswer(stale, "brave-lynx-taco"); !errors.Is(err, ErrNoPendingSession) {
		t.Errorf("stale answer error = %v", err)
	}
	if len(c.remote) != 0 {
		t.Fatalf("stale answer applied: %+v", c.remote)
	}

	if err := h.n.HandleAnswer(json.RawMessage(`{"type":"answer","sdp":"v=0 current"}`), "quiet-heron-mochi"); err != nil {
		t.Fatalf("current answer: %v", err)
	}
	if len(c.remote) != 1 || c.remote[0].SDP != "v=0 current" {
		t.Errorf("remote descriptions = %+v", c.remote)
	}
}

func TestCandidatesFromOtherPeersDiscarded(t *testing.T) {
	h := newHarness(t, false)
	if err := h.n.Initiate("brave-lynx-taco"); err != nil {
		t.Fatal(err)
	}
	if err := h.n.Initiate("quiet-heron-mochi"); err != nil {
		t.Fatal(err)
	}
	c := h.factory.last()

	if err := h.n.HandleCandidate(json.RawMessage(`{"candidate":"candidate:queued-stale"}`), "brave-lynx-taco"); err != nil {
		t.Errorf("stale queued candidate: %v", err)
	}
	if err := h.n.HandleAnswer(json.RawMessage(`{"type":"answer","sdp":"v=0"}`), "quiet-heron-mochi"); err != nil {
		t.Fatal(err)
	}
	if err := h.n.HandleCandidate(json.RawMessage(`{"candidate":"candidate:stale"}`), "brave-lynx-taco"); err != nil {
		t.Errorf("stale candidate: %v", err)
	}
	if err := h.n.HandleCandidate(json.RawMessage(`{"candidate":"candidate:current"}`), "quiet-heron-mochi"); err != nil {
		t.Fatal(err)
	}

	if got := c.addedCandidates(); strings.Join(got, ",") != "candidate:current" {
		t.Errorf("added = %v", got)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, false)

	if err := h.n.HandleCandidate(json.RawMessage(`{"candidate":"candidate:0"}`), "brave-lynx-taco"); err != nil {
		t.Errorf("candidate with no session: %v", err)
	}

	if err := h.n.Initiate("brave-lynx-taco"); err != nil {
		t.Fatal(err)
	}
	c := h.factory.last()

	for _, payload := range []string{`{"candidate":"candidate:1"}`, `null`, `{"candidate":""}`, ``} {
		if err := h.n.HandleCandidate(json.RawMessage(payload), "brave-lynx-taco"); err != nil {
			t.Errorf("HandleCandidate(%s): %v", payload, err)
		}
	}
	if got := c.addedCandidates(); len(got) != 0 {
		t.Fatalf("candidates added before answer: %v", got)
	}

	if err := h.n.HandleAnswer(json.RawMessage(`{"type":"answer","sdp":"v=0"}`), "brave-lynx-taco"); err != nil {
		t.Fatal(err)
	}
	if err := h.n.HandleCandidate(json.RawMessage(`{"candidate":"candidate:2"}`), "brave-lynx-taco"); err != nil {
		t.Fatal(err)
	}

	got := c.addedCandidates()
	if strings.Join(got, ",") != "candidate:1,candidate:2" {
		t.Errorf("added = %v", got)
	}

	if err := h.n.HandleCandidate(json.RawMessage(`{bad`), "brave-lynx-taco"); err == nil {
		t.Errorf("malformed candidate accepted")
	}
}

func TestMasterPingsWhileConnected(t *testing.T) {
	h := newHarness(t, false)
	_, s := h.connectMaster(t, "brave-lynx-taco")

	if err := h.clock.BlockUntilContext(testContext(t), 1); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(DefaultPingInterval)
	waitFor(t, "first ping", func() bool { return len(s.frames()) == 1 })

	var ping webrtc.Ping
	if err := json.Unmarshal([]byte(s.frames()[0]), &ping); err != nil {
		t.Fatal(err)
	}
	wantTS := float64(epoch.Add(DefaultPingInterval).UnixMilli())
	if ping.Type != webrtc.TypePing || ping.Timestamp != wantTS || ping.Latency != nil {
		t.Fatalf("ping = %+v", ping)
	}

	h.clock.Advance(80 * time.Millisecond)
	s.receive(fmt.Sprintf(`{"type":"pong","timestamp":%v}`, ping.Timestamp))

	updates := h.events.ofType(observer.EventLatencyUpdate)
	if len(updates) != 1 || *updates[0].Latency != 40 {
		t.Fatalf("latency updates = %+v", updates)
	}
	sum, _ := h.n.Current()
	if sum.Latency == nil || *sum.Latency != 40*time.Millisecond || len(sum.Samples) != 1 || sum.Samples[0].RTT != 80*time.Millisecond {
		t.Errorf("summary = %+v", sum)
	}

	// A replayed pong no longer matches a pending ping.
	s.receive(fmt.Sprintf(`{"type":"pong","timestamp":%v}`, ping.Timestamp))
	if got := h.events.ofType(observer.EventLatencyUpdate); len(got) != 1 {
		t.Errorf("stale pong produced an update")
	}

	// The next ping carries the latency estimate.
	h.clock.Advance(DefaultPingInterval)
	waitFor(t, "second ping", func() bool { return len(s.frames()) == 2 })
	var second webrtc.Ping
	if err := json.Unmarshal([]byte(s.frames()[1]), &second); err != nil {
		t.Fatal(err)
	}
	if second.Latency == nil || *second.Latency != 40 {
		t.Errorf("second ping = %+v", second)
	}

	h.n.Close()
	h.clock.Advance(DefaultPingInterval)
	time.Sleep(20 * time.Millisecond)
	if got := len(s.frames()); got != 2 {
		t.Errorf("pinged after close: %d frames", got)
	}
}

func TestPongFromSupersededSessionIgnored(t *testing.T) {
	h := newHarness(t, false)
	_, old := h.connectMaster(t, "brave-lynx-taco")

	if err := h.clock.BlockUntilContext(testContext(t), 1); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(DefaultPingInterval)
	waitFor(t, "ping", func() bool { return len(old.frames()) == 1 })
	var ping webrtc.Ping
	if err := json.Unmarshal([]byte(old.frames()[0]), &ping); err != nil {
		t.Fatal(err)
	}

	_, current := h.connectMaster(t, "quiet-heron-mochi")
	h.clock.Advance(60 * time.Millisecond)

	pong := fmt.Sprintf(`{"type":"pong","timestamp":%v}`, ping.Timestamp)
	old.receive(pong)
	current.receive(pong)

	if got := h.events.ofType(observer.EventLatencyUpdate); len(got) != 0 {
		t.Errorf("latency updates = %+v", got)
	}
	sum, ok := h.n.Current()
	if !ok || sum.PeerID != "quiet-heron-mochi" {
		t.Fatalf("current = %+v", sum)
	}
	if sum.Latency != nil || len(sum.Samples) != 0 {
		t.Errorf("current latency = %v, samples = %v", sum.Latency, sum.Samples)
	}
}

func TestSlaveAnswersPingAndEstimatesOffset(t *testing.T) {
	h := newHarness(t, true)
	_, s := h.connectSlave(t, "brave-lynx-taco")

	nowMs := float64(epoch.UnixMilli())
	s.receive(fmt.Sprintf(`{"type":"ping","timestamp":%v,"latency":50}`, nowMs+200))

	frames := s.frames()
	if len(frames) != 1 {
		t.Fatalf("frames = %v", frames)
	}
	var pong webrtc.Pong
	if err := json.Unmarshal([]byte(frames[0]), &pong); err != nil {
		t.Fatal(err)
	}
	if pong.Type != webrtc.TypePong || pong.Timestamp != nowMs+200 {
		t.Errorf("pong = %+v", pong)
	}

	sum, _ := h.n.Current()
	if sum.TimeDiff != 250*time.Millisecond {
		t.Errorf("time diff = %v, want 250ms", sum.TimeDiff)
	}

	// Slaves ignore pongs.
	s.receive(`{"type":"pong","timestamp":1}`)
	if got := h.events.ofType(observer.EventLatencyUpdate); len(got) != 0 {
		t.Errorf("slave produced latency updates")
	}
}

func TestSlaveOffsetDisabled(t *testing.T) {
	h := newHarness(t, false)
	_, s := h.connectSlave(t, "brave-lynx-taco")

	s.receive(fmt.Sprintf(`{"type":"ping","timestamp":%v,"latency":50}`, float64(epoch.UnixMilli())+200))
	sum, _ := h.n.Current()
	if sum.TimeDiff != 0 {
		t.Errorf("time diff = %v", sum.TimeDiff)
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t, false)

	if err := h.n.SendChat("early"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendChat before connect = %v", err)
	}

	_, s := h.connectSlave(t, "brave-lynx-taco")
	s.receive(`{"type":"chat","data":"hello"}`)
	s.receive(`{"type":"dance"}`)
	s.receive(`not json`)

	msgs := h.events.ofType(observer.EventMessage)
	if len(msgs) != 1 || msgs[0].Text() != "hello" {
		t.Fatalf("messages = %+v", msgs)
	}

	if err := h.n.SendChat("hi back"); err != nil {
		t.Fatal(err)
	}
	if got := s.frames(); len(got) != 1 || got[0] != `{"type":"chat","data":"hi back"}` {
		t.Errorf("frames = %v", got)
	}
}

func TestMasterStartsVideoSync(t *testing.T) {
	h := newHarness(t, false)
	_, s := h.connectMaster(t, "brave-lynx-taco")
	if err := h.player.Seek(30); err != nil {
		t.Fatal(err)
	}

	if err := h.n.StartVideoSync(); err != nil {
		t.Fatal(err)
	}

	frames := s.frames()
	if len(frames) != 1 {
		t.Fatalf("frames = %v", frames)
	}
	var vs webrtc.VideoSync
	if err := json.Unmarshal([]byte(frames[0]), &vs); err != nil {
		t.Fatal(err)
	}
	wantStart := float64(epoch.UnixMilli()) + 3000
	if vs.Type != webrtc.TypeVideoSync || vs.CurrentTime != 30 || vs.StartTime != wantStart {
		t.Errorf("videoSync = %+v", vs)
	}

	// Ping ticker plus the pending play.
	if err := h.clock.BlockUntilContext(testContext(t), 2); err != nil {
		t.Fatal(err)
	}
	if h.player.Playing() {
		t.Fatalf("playing before start time")
	}
	h.clock.Advance(3 * time.Second)
	waitFor(t, "master play", h.player.Playing)

	playback := h.events.ofType(observer.EventPlayback)
	waitFor(t, "play event", func() bool {
		playback = h.events.ofType(observer.EventPlayback)
		return len(playback) == 2
	})
	if playback[0].Action != "seek" || playback[1].Action != "play" || *playback[1].Time != 30 {
		t.Errorf("playback events = %+v", playback)
	}
}

func TestSlaveFollowsVideoSync(t *testing.T) {
	h := newHarness(t, true)
	_, s := h.connectSlave(t, "brave-lynx-taco")

	nowMs := float64(epoch.UnixMilli())
	// Master clock runs 250ms ahead.
	s.receive(fmt.Sprintf(`{"type":"ping","timestamp":%v,"latency":50}`, nowMs+200))
	s.receive(fmt.Sprintf(`{"type":"videoSync","currentTime":12,"startTime":%v}`, nowMs+250+3000))

	if pos, _ := h.player.CurrentTime(); pos != 12 {
		t.Fatalf("position = %v, want 12", pos)
	}
	if err := h.clock.BlockUntilContext(testContext(t), 1); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2999 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if h.player.Playing() {
		t.Fatalf("played early")
	}
	h.clock.Advance(time.Millisecond)
	waitFor(t, "slave play", h.player.Playing)
}

func TestSlaveVideoSyncInPastPlaysImmediately(t *testing.T) {
	h := newHarness(t, false)
	_, s := h.connectSlave(t, "brave-lynx-taco")

	s.receive(fmt.Sprintf(`{"type":"videoSync","currentTime":5,"startTime":%v}`, float64(epoch.UnixMilli())-1000))
	if !h.player.Playing() {
		t.Errorf("late videoSync did not play immediately")
	}
}

func TestMasterIgnoresVideoSync(t *testing.T) {
	h := newHarness(t, false)
	_, s := h.connectMaster(t, "brave-lynx-taco")

	s.receive(fmt.Sprintf(`{"type":"videoSync","currentTime":40,"startTime":%v}`, float64(epoch.UnixMilli())))
	if pos, _ := h.player.CurrentTime(); pos != 0 || h.player.Playing() {
		t.Errorf("master applied videoSync: pos=%v playing=%v", pos, h.player.Playing())
	}
}

func TestStartVideoSyncErrors(t *testing.T) {
	h := newHarness(t, false)

	if err := h.n.StartVideoSync(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("no session = %v", err)
	}

	h.connectSlave(t, "brave-lynx-taco")
	if err := h.n.StartVideoSync(); !errors.Is(err, ErrNotMaster) {
		t.Errorf("slave = %v", err)
	}

	h.player.Unload()
	if err := h.n.StartVideoSync(); !errors.Is(err, ErrNoPlayback) {
		t.Errorf("no media = %v", err)
	}
}

func TestStreamCloseEndsSession(t *testing.T) {
	h := newHarness(t, false)
	c, s := h.connectMaster(t, "brave-lynx-taco")

	s.remoteClose()
	if _, ok := h.n.Current(); ok {
		t.Fatalf("session still current after stream close")
	}
	if !c.isClosed() {
		t.Errorf("peer channel not closed")
	}

	status := h.events.ofType(observer.EventConnectionStatus)
	if len(status) != 2 || status[1].Status != observer.StatusDisconnected || !*status[1].IsMaster {
		t.Fatalf("status events = %+v", status)
	}

	// Nothing acts on a closed session.
	s.open()
	c.fail()
	s.receive(`{"type":"chat","data":"ghost"}`)
	if got := h.events.ofType(observer.EventConnectionStatus); len(got) != 2 {
		t.Errorf("closed session emitted status: %+v", got)
	}
	if got := h.events.ofType(observer.EventMessage); len(got) != 0 {
		t.Errorf("closed session forwarded chat")
	}

	hist := h.n.Summaries()
	if len(hist) != 1 || hist[0].State != StateClosed || hist[0].EndedAt.IsZero() {
		t.Errorf("history = %+v", hist)
	}
}

func TestTransportFailureBeforeOpen(t *testing.T) {
	h := newHarness(t, false)
	if err := h.n.Initiate("brave-lynx-taco"); err != nil {
		t.Fatal(err)
	}
	h.factory.last().fail()

	if _, ok := h.n.Current(); ok {
		t.Errorf("session survived transport failure")
	}
	if got := h.events.ofType(observer.EventConnectionStatus); len(got) != 0 {
		t.Errorf("disconnect emitted for a session that never connected: %+v", got)
	}
}

func TestClientIDEvent(t *testing.T) {
	h := newHarness(t, false)
	if h.n.ClientID() != "calm-otter-ramen" {
		t.Errorf("ClientID() = %q", h.n.ClientID())
	}
	if got := h.events.ofType(observer.EventClientID); len(got) != 1 || got[0].ID != "calm-otter-ramen" {
		t.Errorf("clientId events = %+v", got)
	}
}

// testContext stands in for t.Context (Go 1.24+): it is cancelled when the
// test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
