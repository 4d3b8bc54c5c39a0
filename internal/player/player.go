package player

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrNoMedia is returned when the player has nothing loaded.
var ErrNoMedia = errors.New("no media loaded")

// Player is the local media element the playback scheduler drives.
// Positions are in seconds.
type Player interface {
	Seek(position float64) error
	Play() error
	// CurrentTime reports the playback position, or false when no media is present.
	CurrentTime() (float64, bool)
}

// Virtual is a media clock with no decoder behind it. It advances in real
// time while playing, measured on the injected clock.
type Virtual struct {
	clock clockwork.Clock

	mu       sync.Mutex
	loaded   bool
	playing  bool
	position float64
	anchor   time.Time
}

// NewVirtual returns a paused player at position zero with media loaded.
func NewVirtual(clock clockwork.Clock) *Virtual {
	return &Virtual{clock: clock, loaded: true}
}

func (v *Virtual) Seek(position float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.loaded {
		return ErrNoMedia
	}
	if position < 0 {
		position = 0
	}
	v.position = position
	v.anchor = v.clock.Now()
	return nil
}

func (v *Virtual) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.loaded {
		return ErrNoMedia
	}
	if !v.playing {
		v.playing = true
		v.anchor = v.clock.Now()
	}
	return nil
}

// Pause freezes the position.
func (v *Virtual) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.loaded {
		return ErrNoMedia
	}
	v.position = v.positionLocked()
	v.playing = false
	return nil
}

func (v *Virtual) CurrentTime() (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.loaded {
		return 0, false
	}
	return v.positionLocked(), true
}

// Playing reports whether the player is running.
func (v *Virtual) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

// Unload removes the media; CurrentTime reports false afterwards.
func (v *Virtual) Unload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loaded = false
	v.playing = false
	v.position = 0
}

func (v *Virtual) positionLocked() float64 {
	if !v.playing {
		return v.position
	}
	return v.position + v.clock.Since(v.anchor).Seconds()
}
