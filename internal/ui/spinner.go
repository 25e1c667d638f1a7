package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner is a blocking-free line spinner for the steps before the
// room view takes over the terminal.
type SimpleSpinner struct {
	out     io.Writer
	spinner spinner.Spinner

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped bool
}

func newSpinner(s spinner.Spinner, message string) *SimpleSpinner {
	return &SimpleSpinner{
		out:     os.Stdout,
		spinner: s,
		message: message,
		done:    make(chan struct{}),
	}
}

// NewConnectionSpinner is used while dialing the signaling server.
func NewConnectionSpinner(message string) *SimpleSpinner {
	return newSpinner(spinner.Globe, message)
}

// NewCaptureSpinner is used while the camera and microphone start.
func NewCaptureSpinner(message string) *SimpleSpinner {
	return newSpinner(spinner.Dot, message)
}

func (s *SimpleSpinner) Start() {
	go func() {
		frames := s.spinner.Frames
		ticker := time.NewTicker(s.spinner.FPS)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			if !s.stopped {
				frame := SpinnerStyle.Render(frames[i%len(frames)])
				fmt.Fprintf(s.out, "\r%s %s", frame, s.message)
			}
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *SimpleSpinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
		fmt.Fprint(s.out, "\r\033[K")
	}
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

// RunConnectionSpinner starts a connection spinner and returns a stop function
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
