package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking-free line spinner for work that happens before the
// terminal UI takes over the screen.
type Spinner struct {
	out      io.Writer
	frames   spinner.Spinner
	interval time.Duration

	message string

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewConnectionSpinner creates a spinner for network operations (Globe style).
func NewConnectionSpinner(message string) *Spinner {
	return newSpinner(os.Stdout, spinner.Globe, 180*time.Millisecond, message)
}

func newSpinner(out io.Writer, frames spinner.Spinner, interval time.Duration, message string) *Spinner {
	return &Spinner{
		out:      out,
		frames:   frames,
		interval: interval,
		message:  message,
		done:     make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			frame := SpinnerStyle.Render(s.frames.Frames[i%len(s.frames.Frames)])
			fmt.Fprintf(s.out, "\r%s %s", frame, s.message)

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the spinner and clears its line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}
