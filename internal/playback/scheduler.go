package playback

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BioHazard786/Lockstep/internal/player"
)

// DefaultStartDelay is how far in the future a synchronized start is scheduled.
const DefaultStartDelay = 3 * time.Second

// Playback actions reported to the event hook.
const (
	ActionSeek = "seek"
	ActionPlay = "play"
)

// Command is a synchronized start: seek to CurrentTime (seconds) and begin
// playing at StartTime on the master clock.
type Command struct {
	CurrentTime float64
	StartTime   time.Time
}

// StartTimeMillis returns StartTime as unix milliseconds.
func (c Command) StartTimeMillis() float64 {
	sub := c.StartTime.Nanosecond() % int(time.Millisecond)
	return float64(c.StartTime.UnixMilli()) + float64(sub)/float64(time.Millisecond)
}

// CommandFromMillis builds a Command from a wire start time in unix milliseconds.
func CommandFromMillis(currentTime, startTimeMillis float64) Command {
	whole := math.Floor(startTimeMillis)
	frac := time.Duration((startTimeMillis - whole) * float64(time.Millisecond))
	return Command{
		CurrentTime: currentTime,
		StartTime:   time.UnixMilli(int64(whole)).Add(frac),
	}
}

// EventFunc observes seek and play actions applied to the player.
type EventFunc func(action string, position float64)

// Scheduler issues seek and play commands to a player at scheduled instants.
// A new command supersedes any play still pending from the previous one.
type Scheduler struct {
	clock   clockwork.Clock
	player  player.Player
	delay   time.Duration
	logger  *slog.Logger
	onEvent EventFunc

	// order serializes apply so seeks reach the player in command order.
	order sync.Mutex

	mu      sync.Mutex
	pending clockwork.Timer
	gen     uint64
	stopped bool
}

// NewScheduler creates a scheduler. onEvent may be nil.
func NewScheduler(clock clockwork.Clock, p player.Player, delay time.Duration, logger *slog.Logger, onEvent EventFunc) *Scheduler {
	if delay <= 0 {
		delay = DefaultStartDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	if onEvent == nil {
		onEvent = func(string, float64) {}
	}
	return &Scheduler{
		clock:   clock,
		player:  p,
		delay:   delay,
		logger:  logger,
		onEvent: onEvent,
	}
}

// Plan returns the command a master broadcasts for currentTime.
func (s *Scheduler) Plan(currentTime float64) Command {
	return Command{CurrentTime: currentTime, StartTime: s.clock.Now().Add(s.delay)}
}

// Start applies a command on the master: seek now, play after exactly the start delay.
func (s *Scheduler) Start(cmd Command) {
	s.apply(cmd, s.delay)
}

// Follow applies a command on the slave. The play delay is the time left
// until cmd.StartTime corrected by timeDiff (master clock minus local clock),
// clamped at zero. It returns the delay used.
func (s *Scheduler) Follow(cmd Command, timeDiff time.Duration) time.Duration {
	delay := cmd.StartTime.Sub(s.clock.Now()) - timeDiff
	if delay < 0 {
		delay = 0
	}
	s.apply(cmd, delay)
	return delay
}

// Stop cancels any pending play. Later commands are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.cancelLocked()
}

func (s *Scheduler) apply(cmd Command, delay time.Duration) {
	s.order.Lock()
	defer s.order.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.player.Seek(cmd.CurrentTime); err != nil {
		s.logger.Warn("seek failed", "position", cmd.CurrentTime, "error", err)
	} else {
		s.onEvent(ActionSeek, cmd.CurrentTime)
	}

	if delay <= 0 {
		s.play(gen, cmd.CurrentTime)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.gen != gen {
		return
	}
	s.pending = s.clock.AfterFunc(delay, func() { s.play(gen, cmd.CurrentTime) })
	s.logger.Debug("play scheduled", "position", cmd.CurrentTime, "delay", delay)
}

func (s *Scheduler) play(gen uint64, position float64) {
	s.mu.Lock()
	if s.stopped || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.mu.Unlock()

	if err := s.player.Play(); err != nil {
		s.logger.Warn("play failed", "error", err)
		return
	}
	s.onEvent(ActionPlay, position)
}

func (s *Scheduler) cancelLocked() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}
