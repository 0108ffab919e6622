// Package session implements the Session Controller (C6): the central state
// machine that consumes hotkey/toggle commands and pipeline events, drives
// the capsule-state broadcast stream, and orchestrates text delivery
// (IME → clipboard fallback).
//
// Grounded on app.go's onHotkeyTriggered/state fields (windowVisible,
// activeContext) and its single-mutex-guarded App struct. Generalized into
// the explicit idle/listening/processing/error/copiedToClipboard state
// machine of spec.md §4.6. Unlike the teacher — whose state lived behind a
// mutex shared by many goroutines — every mutation here happens on one
// goroutine (Run), per Design Notes §9's "single executor with suspension
// points"; no mutex is needed because only that goroutine ever touches
// Controller's state fields.
package session

import (
	"context"
	"errors"
	"time"

	"nextalk/internal/capsule"
	"nextalk/internal/diagnostic"
	"nextalk/internal/ime"
	"nextalk/internal/pipeline"
)

// Command is one of the toggle/show/hide/error-action events C6 handles,
// arriving from an in-process hotkey hook or the command channel (C7).
type Command string

const (
	CmdToggle  Command = "toggle"
	CmdShow    Command = "show"
	CmdHide    Command = "hide"
	CmdRetry   Command = "retry"
	CmdDismiss Command = "dismiss"
	CmdDiscard Command = "discard"
	CmdCopy    Command = "copy"
)

// pipelineController is the subset of *pipeline.Pipeline the controller
// depends on, so tests can inject a fake.
type pipelineController interface {
	Start() error
	Stop(policy pipeline.FlushPolicy) error
	Events() <-chan pipeline.Event
}

// imeSender is the subset of *ime.Client the controller depends on. Reset
// and Reconnect back the socketError "Retry submit" action of spec.md §7
// ("clears degraded mode, reconnects, resends"), not just the happy-path
// Send.
type imeSender interface {
	Send(text string) error
	Reset()
	Reconnect() error
}

// ClipboardWriter copies text to the system clipboard. Injected so tests
// never shell out.
type ClipboardWriter func(text string) error

// autoHideFired is posted back onto the controller's own goroutine by a
// time.AfterFunc callback, keeping timer firings serialized with every other
// event per spec.md §5's "single executor" rule.
type autoHideFired struct{ generation int }

// Controller is the single-goroutine session state machine of spec.md §4.6.
type Controller struct {
	pipeline  pipelineController
	ime       imeSender
	clipboard ClipboardWriter
	broadcast *capsule.Broadcaster
	log       *diagnostic.Log

	cmds     chan Command
	internal chan autoHideFired

	state          capsule.State
	pipelineEvents <-chan pipeline.Event
	generation     int
	pendingAutoHide func()
}

// New creates a Controller. log may be nil to disable diagnostic logging.
func New(p pipelineController, imeClient imeSender, clipboard ClipboardWriter, broadcast *capsule.Broadcaster, log *diagnostic.Log) *Controller {
	return &Controller{
		pipeline:  p,
		ime:       imeClient,
		clipboard: clipboard,
		broadcast: broadcast,
		log:       log,
		cmds:      make(chan Command, 8),
		internal:  make(chan autoHideFired, 1),
		state:     capsule.IdleState,
	}
}

// Enqueue posts a command to the controller, non-blockingly. Safe to call
// from any goroutine (the hotkey hook, C7's command-channel listener).
func (c *Controller) Enqueue(cmd Command) {
	select {
	case c.cmds <- cmd:
	default:
		c.logf(diagnostic.Warn, "command queue full, dropping %s", cmd)
	}
}

// Run is the controller's single execution context. It processes commands
// and pipeline events FIFO until ctx is cancelled, per spec.md §4.6's
// ordering guarantees.
func (c *Controller) Run(ctx context.Context) {
	c.broadcast.Publish(c.state)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-c.cmds:
			if !ok {
				return
			}
			c.handleCommand(cmd)
		case ev, ok := <-c.pipelineEvents:
			if !ok {
				c.pipelineEvents = nil
				continue
			}
			c.handlePipelineEvent(ev)
		case fired := <-c.internal:
			if fired.generation == c.generation && c.pendingAutoHide != nil {
				fn := c.pendingAutoHide
				c.pendingAutoHide = nil
				fn()
			}
		}
	}
}

func (c *Controller) handleCommand(cmd Command) {
	switch cmd {
	case CmdToggle:
		c.handleToggle()
	case CmdShow, CmdHide:
		// Window visibility is owned by the capsule UI, an external
		// collaborator out of core scope per spec.md §1; C6 has nothing
		// to do here beyond having already set preventAutoHide where it
		// applies.
	case CmdRetry:
		c.cancelAutoHide()
		if c.state.Kind != capsule.Error {
			return
		}
		if c.state.ErrorKind == capsule.ErrSocketError && c.state.PreservedText != "" {
			// "Retry submit" per spec.md §7: reconnect and resend the
			// preserved text, never discard it via toIdle.
			c.retrySocketSend(c.state.PreservedText)
			return
		}
		c.toIdle()
		c.handleToggle()
	case CmdDismiss, CmdDiscard:
		c.cancelAutoHide()
		if c.state.Kind == capsule.Error {
			c.toIdle()
		}
	case CmdCopy:
		if c.state.Kind == capsule.Error && c.state.PreservedText != "" {
			c.cancelAutoHide()
			if err := c.clipboard(c.state.PreservedText); err == nil {
				c.state = capsule.State{Kind: capsule.CopiedToClip}
				c.publish()
				c.scheduleAutoHide(2*time.Second, c.toIdle)
			}
		}
	}
}

// handleToggle implements spec.md §4.6's toggle event. Processing is a
// transient sub-state only visible inside finishUtterance's synchronous
// call chain — by the time handleCommand runs again, the session has
// already resolved to idle/copiedToClipboard/error, so only idle and
// listening need explicit handling here. Toggle while in error is a no-op:
// the user must dismiss/retry/discard/copy explicitly.
func (c *Controller) handleToggle() {
	switch c.state.Kind {
	case capsule.Idle:
		if err := c.pipeline.Start(); err != nil {
			kind := capsule.ErrUnknown
			var perr *pipeline.PipelineError
			if errors.As(err, &perr) {
				kind = perr.Kind
			}
			c.enterError(kind, err.Error(), "")
			return
		}
		c.pipelineEvents = c.pipeline.Events()
		c.state = capsule.State{Kind: capsule.Listening}
		c.publish()
	case capsule.Listening:
		c.finishUtterance(c.state.Partial)
	}
}

func (c *Controller) handlePipelineEvent(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventPartial:
		if c.state.Kind == capsule.Listening {
			c.state.Partial = ev.Text
			c.publish()
		}
	case pipeline.EventEndpoint:
		if c.state.Kind == capsule.Listening {
			c.finishUtterance(ev.Text)
		}
	case pipeline.EventError:
		c.pipelineEvents = nil
		c.enterError(ev.ErrorKind, "", c.state.Partial)
	}
}

// finishUtterance implements the "endpoint or toggle while recording" branch
// of spec.md §4.6: transition to processing, stop the pipeline, then
// deliver the text.
func (c *Controller) finishUtterance(text string) {
	c.state = capsule.State{Kind: capsule.Processing, Partial: text}
	c.publish()
	c.pipeline.Stop(pipeline.Commit)
	c.pipelineEvents = nil
	c.deliver(text)
}

// deliver implements spec.md §4.6's text delivery algorithm.
func (c *Controller) deliver(text string) {
	if text == "" {
		c.toIdle()
		return
	}

	if err := c.ime.Send(text); err == nil {
		c.toIdle()
		return
	} else {
		c.logf(diagnostic.Warn, "ime send failed: %v", err)
		sub := capsule.SocketSendFailed
		var imeErr *ime.Error
		if errors.As(err, &imeErr) {
			sub = imeErr.SubKind
		}

		if cbErr := c.clipboard(text); cbErr == nil {
			c.state = capsule.State{Kind: capsule.CopiedToClip}
			c.publish()
			c.scheduleAutoHide(2*time.Second, c.toIdle)
		} else {
			c.logf(diagnostic.Error, "clipboard fallback failed: %v", cbErr)
			c.state = capsule.State{
				Kind:            capsule.Error,
				ErrorKind:       capsule.ErrSocketError,
				SocketSubKind:   sub,
				PreservedText:   text,
				PreventAutoHide: true,
			}
			c.publish()
		}
	}
}

// retrySocketSend implements spec.md §7's socketError "Retry submit" action:
// clear the IME client's degraded mode, reconnect, and resend the preserved
// text through the same IME→clipboard-fallback path as a fresh delivery —
// never routing through toIdle, which would zero State and drop text the
// user is explicitly trying to recover.
func (c *Controller) retrySocketSend(text string) {
	c.ime.Reset()
	if err := c.ime.Reconnect(); err != nil {
		c.logf(diagnostic.Warn, "ime reconnect failed: %v", err)
		sub := capsule.SocketReconnectFailed
		var imeErr *ime.Error
		if errors.As(err, &imeErr) {
			sub = imeErr.SubKind
		}
		c.state = capsule.State{
			Kind:            capsule.Error,
			ErrorKind:       capsule.ErrSocketError,
			SocketSubKind:   sub,
			PreservedText:   text,
			PreventAutoHide: true,
		}
		c.publish()
		return
	}
	c.deliver(text)
}

// enterError transitions to error{kind}, per spec.md §4.6. Every error kind
// in spec.md §7's action table offers at least one user action (Refresh
// detection, Re-download, Retry, Copy, Close, ...), so action buttons are
// always visible here and the controller waits for an explicit retry/
// dismiss/discard/copy command rather than auto-hiding — unlike
// copiedToClipboard, which has no actions and always auto-hides.
func (c *Controller) enterError(kind capsule.ErrorKind, message, preserved string) {
	c.state = capsule.State{
		Kind:            capsule.Error,
		ErrorKind:       kind,
		ErrorMessage:    message,
		PreservedText:   preserved,
		PreventAutoHide: true,
	}
	c.publish()
}

func (c *Controller) toIdle() {
	c.state = capsule.IdleState
	c.publish()
}

func (c *Controller) scheduleAutoHide(d time.Duration, then func()) {
	c.generation++
	gen := c.generation
	c.pendingAutoHide = then
	time.AfterFunc(d, func() {
		select {
		case c.internal <- autoHideFired{generation: gen}:
		default:
		}
	})
}

func (c *Controller) cancelAutoHide() {
	c.generation++
	c.pendingAutoHide = nil
}

func (c *Controller) publish() {
	c.broadcast.Publish(c.state)
}

func (c *Controller) logf(level diagnostic.Level, format string, args ...interface{}) {
	if c.log == nil {
		return
	}
	c.log.Write(level, "session", format, args...)
}
