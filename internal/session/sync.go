package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/Lockstep/internal/observer"
	"github.com/BioHazard786/Lockstep/internal/playback"
	"github.com/BioHazard786/Lockstep/internal/webrtc"
)

var errStalePong = errors.New("pong does not match a pending ping")

// SendChat sends a chat message to the peer.
func (n *Negotiator) SendChat(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := n.current
	if s == nil || s.state != StateConnected {
		return WrapError("send chat", ErrNotConnected, "")
	}

	data, err := json.Marshal(text)
	if err != nil {
		return NewError("send chat", err)
	}
	frame, err := webrtc.Encode(webrtc.Chat{Type: webrtc.TypeChat, Data: data})
	if err != nil {
		return NewError("send chat", err)
	}
	if err := s.stream.SendText(frame); err != nil {
		return NewError("send chat", err)
	}
	return nil
}

// SendVideoSync schedules a synchronized start at currentTime: the peer is
// told to start at now+StartDelay and the local player follows the same plan.
func (n *Negotiator) SendVideoSync(currentTime float64) error {
	fx := &effects{}
	n.mu.Lock()
	err := n.sendVideoSyncLocked(currentTime, fx)
	n.mu.Unlock()
	n.apply(fx)
	return err
}

func (n *Negotiator) sendVideoSyncLocked(currentTime float64, fx *effects) error {
	s := n.current
	if s == nil || s.state != StateConnected {
		return WrapError("send video sync", ErrNotConnected, "")
	}
	if !s.isMaster() {
		return WrapError("send video sync", ErrNotMaster, "")
	}

	scheduler := s.scheduler
	cmd := scheduler.Plan(currentTime)
	frame, err := webrtc.Encode(webrtc.VideoSync{
		Type:        webrtc.TypeVideoSync,
		CurrentTime: cmd.CurrentTime,
		StartTime:   cmd.StartTimeMillis(),
	})
	if err != nil {
		return NewError("send video sync", err)
	}
	if err := s.stream.SendText(frame); err != nil {
		s.logger.Warn("video sync not delivered", "error", err)
	}

	s.logger.Info("video sync scheduled", "position", currentTime, "start", cmd.StartTime)
	fx.later(func() { scheduler.Start(cmd) })
	return nil
}

// StartVideoSync synchronizes the peer to the local player's position.
func (n *Negotiator) StartVideoSync() error {
	if n.player == nil {
		return WrapError("start video sync", ErrNoPlayback, "no player")
	}
	position, ok := n.player.CurrentTime()
	if !ok {
		return WrapError("start video sync", ErrNoPlayback, "")
	}
	return n.SendVideoSync(position)
}

func (n *Negotiator) startPingLocked(s *Session) {
	stop := make(chan struct{})
	s.stopPing = stop
	ticker := n.clock.NewTicker(n.pingInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				n.sendPing(s)
			case <-stop:
				return
			}
		}
	}()
}

func (n *Negotiator) sendPing(s *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != s || s.state != StateConnected {
		return
	}

	ping := webrtc.Ping{Type: webrtc.TypePing, Timestamp: float64(n.clock.Now().UnixMilli())}
	if s.latency != nil {
		ms := durationMillis(*s.latency)
		ping.Latency = &ms
	}
	frame, err := webrtc.Encode(ping)
	if err != nil {
		s.logger.Warn("failed to encode ping", "error", err)
		return
	}

	s.addPending(ping.Timestamp)
	if err := s.stream.SendText(frame); err != nil {
		s.logger.Debug("ping not delivered", "error", err)
	}
}

func (n *Negotiator) onFrame(s *Session, data []byte) {
	msgType, err := webrtc.DecodeType(data)
	if err != nil {
		s.logger.Debug("dropping malformed control frame", "error", err)
		return
	}
	handler, ok := n.handlers[msgType]
	if !ok {
		s.logger.Debug("dropping unknown control frame", "type", msgType)
		return
	}

	fx := &effects{}
	n.mu.Lock()
	if n.current == s {
		if err := handler(s, data, fx); err != nil {
			s.logger.Debug("dropping control frame", "type", msgType, "error", err)
		}
	}
	n.mu.Unlock()
	n.apply(fx)
}

// handlePing answers the master's ping and, when enabled, folds the
// carried latency into the clock offset estimate.
func (n *Negotiator) handlePing(s *Session, data []byte, fx *effects) error {
	if s.isMaster() {
		return nil
	}

	var ping webrtc.Ping
	if err := json.Unmarshal(data, &ping); err != nil {
		return fmt.Errorf("decode ping: %w", err)
	}

	frame, err := webrtc.Encode(webrtc.Pong{Type: webrtc.TypePong, Timestamp: ping.Timestamp})
	if err != nil {
		return err
	}
	if err := s.stream.SendText(frame); err != nil {
		s.logger.Debug("pong not delivered", "error", err)
	}

	if n.offsetEstimation && ping.Latency != nil {
		offset := ping.Timestamp + *ping.Latency - unixMillis(n.clock.Now())
		timeDiff := s.recordOffset(millisDuration(offset))
		s.logger.Debug("clock offset updated", "time_diff", timeDiff)
	}
	return nil
}

// handlePong completes a latency sample on the master.
func (n *Negotiator) handlePong(s *Session, data []byte, fx *effects) error {
	if !s.isMaster() {
		return nil
	}

	var pong webrtc.Pong
	if err := json.Unmarshal(data, &pong); err != nil {
		return fmt.Errorf("decode pong: %w", err)
	}
	if !s.takePending(pong.Timestamp) {
		return errStalePong
	}

	now := n.clock.Now()
	rtt := millisDuration(unixMillis(now) - pong.Timestamp)
	if rtt < 0 {
		rtt = 0
	}
	latency := rtt / 2
	s.recordLatency(LatencySample{At: now, RTT: rtt, Latency: latency})
	fx.emit(observer.LatencyUpdate(latency))

	s.logger.Debug("latency measured", "rtt", rtt, "latency", latency)
	return nil
}

func (n *Negotiator) handleChat(s *Session, data []byte, fx *effects) error {
	var chat webrtc.Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return fmt.Errorf("decode chat: %w", err)
	}
	fx.emit(observer.Message(chat.Data))
	return nil
}

// handleVideoSync schedules the slave's start, corrected by the clock offset.
func (n *Negotiator) handleVideoSync(s *Session, data []byte, fx *effects) error {
	if s.isMaster() {
		return nil
	}

	var msg webrtc.VideoSync
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode videoSync: %w", err)
	}

	cmd := playback.CommandFromMillis(msg.CurrentTime, msg.StartTime)
	var timeDiff time.Duration
	if n.offsetEstimation {
		timeDiff = s.timeDiff
	}

	scheduler := s.scheduler
	fx.later(func() {
		delay := scheduler.Follow(cmd, timeDiff)
		s.logger.Info("video sync received", "position", cmd.CurrentTime, "delay", delay, "time_diff", timeDiff)
	})
	return nil
}

func unixMillis(t time.Time) float64 {
	sub := t.Nanosecond() % int(time.Millisecond)
	return float64(t.UnixMilli()) + float64(sub)/float64(time.Millisecond)
}

func millisDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
