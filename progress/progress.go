package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const defaultTermHeight = 24

type State interface {
	String() string
}

// Progress redraws its states in place, one line each, until stopped.
type Progress struct {
	mu sync.Mutex
	// buffer output to minimize flickering on all terminals
	w   *bufio.Writer
	fd  int
	pos int

	states []State

	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	stopped  bool
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		w:        bufio.NewWriter(w),
		fd:       -1,
		ticker:   time.NewTicker(100 * time.Millisecond),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	if f, ok := w.(*os.File); ok {
		p.fd = int(f.Fd())
	}

	// hide cursor
	fmt.Fprint(p.w, "\033[?25l")
	go p.start()
	return p
}

func (p *Progress) Add(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

// Stop stops every spinner, draws the final state of each line and
// restores the cursor. It reports false if p was already stopped.
func (p *Progress) Stop() bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}

	p.stopped = true
	for _, state := range p.states {
		if spinner, ok := state.(*Spinner); ok {
			spinner.Stop()
		}
	}
	p.mu.Unlock()

	p.ticker.Stop()
	close(p.done)
	<-p.finished

	p.render()

	p.mu.Lock()
	defer p.mu.Unlock()

	// show cursor
	fmt.Fprint(p.w, "\n\033[?25h")
	p.w.Flush()
	return true
}

func (p *Progress) height() int {
	if p.fd < 0 {
		return defaultTermHeight
	}

	_, height, err := term.GetSize(p.fd)
	if err != nil {
		return defaultTermHeight
	}

	return height
}

func (p *Progress) render() {
	height := p.height()

	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}

	fmt.Fprint(p.w, "\033[1G")

	n := min(len(p.states), height)
	for i := len(p.states) - n; i < len(p.states); i++ {
		fmt.Fprint(p.w, p.states[i].String(), "\033[K")
		if i < len(p.states)-1 {
			fmt.Fprint(p.w, "\n")
		}
	}

	p.pos = n
	p.w.Flush()
}

func (p *Progress) start() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			p.render()
		case <-p.done:
			return
		}
	}
}

// IsTerminal reports whether w is attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
