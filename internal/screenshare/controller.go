// Package screenshare swaps a display capture into the outgoing video of a
// call without touching the camera capture.
package screenshare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/logging"
	"github.com/Rupam798/VideoConferencing/internal/loop"
	"github.com/Rupam798/VideoConferencing/internal/media"
)

// Provider opens a display capture. Audio is never captured.
type Provider interface {
	GetDisplayMedia(ctx context.Context) (media.Track, error)
}

// Substituter replaces the outgoing video on every open connection.
type Substituter interface {
	SetVideoOverride(media.Track)
	ClearVideoOverride()
}

// Camera hands back a live camera track, acquiring one when none exists.
type Camera interface {
	EnsureVideo(done func(media.Track, error))
}

// Events run on the loop. Both fields are optional.
type Events struct {
	OnChange func(sharing bool)
	OnError  func(error)
}

// Controller is confined to the scheduler's loop.
type Controller struct {
	sched    loop.Scheduler
	provider Provider
	subst    Substituter
	camera   Camera
	log      *slog.Logger
	events   Events

	track    media.Track
	starting bool
	gen      int
	closed   bool
}

func NewController(sched loop.Scheduler, provider Provider, subst Substituter, camera Camera, log *slog.Logger, events Events) *Controller {
	return &Controller{
		sched:    sched,
		provider: provider,
		subst:    subst,
		camera:   camera,
		log:      logging.Or(log).With("component", "screenshare"),
		events:   events,
	}
}

// Sharing reports whether a display track is being sent.
func (c *Controller) Sharing() bool { return c.track != nil }

// Track is the display track being sent, or nil.
func (c *Controller) Track() media.Track { return c.track }

// Start requests a display capture and sends it instead of the camera.
// done runs on the loop; errors match callerr.ErrPermissionDenied or
// callerr.ErrUnsupported.
func (c *Controller) Start(ctx context.Context, done func(error)) {
	switch {
	case c.closed:
		done(callerr.New("screen share", callerr.ErrSessionClosed))
		return
	case c.track != nil:
		done(nil)
		return
	case c.starting:
		done(callerr.Wrap("screen share", callerr.ErrDeviceBusy, "already starting"))
		return
	}

	c.starting = true
	gen := c.gen
	c.sched.Go(func() func() {
		t, err := c.provider.GetDisplayMedia(ctx)
		return func() {
			c.starting = false
			if err != nil {
				err = displayError(err)
				c.log.Warn("display capture failed", "error", err)
				c.report(err)
				done(err)
				return
			}
			if c.closed || c.gen != gen {
				t.Stop()
				done(callerr.Wrap("screen share", callerr.ErrSessionClosed, "stopped while starting"))
				return
			}
			c.install(t)
			done(nil)
		}
	})
}

func (c *Controller) install(t media.Track) {
	c.track = t
	t.OnEnded(func() {
		c.sched.Post(func() {
			if c.track == t {
				c.log.Info("display capture ended")
				c.Stop()
			}
		})
	})
	c.subst.SetVideoOverride(t)
	c.log.Info("screen share started", "track", t.ID())
	if c.events.OnChange != nil {
		c.events.OnChange(true)
	}
}

// Stop restores the camera and releases the display capture. A start still
// in flight is abandoned.
func (c *Controller) Stop() {
	c.gen++
	t := c.track
	if t == nil {
		return
	}
	c.track = nil
	c.subst.ClearVideoOverride()
	t.Stop()

	if !c.closed {
		c.camera.EnsureVideo(func(_ media.Track, err error) {
			if err != nil {
				c.log.Warn("camera not restored", "error", err)
				c.report(err)
			}
		})
	}
	c.log.Info("screen share stopped")
	if c.events.OnChange != nil {
		c.events.OnChange(false)
	}
}

// Close stops sharing without restoring the camera.
func (c *Controller) Close() {
	c.closed = true
	c.Stop()
}

func (c *Controller) report(err error) {
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}

func displayError(err error) error {
	if errors.Is(err, callerr.ErrPermissionDenied) || errors.Is(err, callerr.ErrUnsupported) {
		return err
	}
	return callerr.New("screen share", fmt.Errorf("%w: %w", callerr.ErrUnsupported, err))
}
