package progress

import (
	"fmt"
	"sync"
	"time"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is a single step. While running it animates; once stopped it
// shows how long the step took.
type Spinner struct {
	message string
	started time.Time

	mu      sync.Mutex
	stopped time.Time
}

func NewSpinner(message string) *Spinner {
	return &Spinner{message: message, started: time.Now()}
}

func (s *Spinner) String() string {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	if stopped.IsZero() {
		frame := int(time.Since(s.started)/(100*time.Millisecond)) % len(frames)
		return fmt.Sprintf("%s %s ", s.message, frames[frame])
	}

	return fmt.Sprintf("%s (%s)", s.message, stopped.Sub(s.started).Round(10*time.Millisecond))
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.IsZero() {
		s.stopped = time.Now()
	}
}
