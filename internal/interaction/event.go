package interaction

import (
	"context"
	"strings"
	"sync"
)

// Responder delivers text back to the chat an event came from.
type Responder interface {
	Respond(ctx context.Context, text string) error
}

// InboundEvent is anything a user can trigger: a typed command or a pressed button.
type InboundEvent interface {
	UserID() int64
	ChatID() int64
	Route() string
	Args() string
	Responder
}

// DirectCommand is a slash command such as "/promo SPRING26".
type DirectCommand struct {
	User      int64
	Chat      int64
	Name      string
	Arguments string
	Out       Responder
}

func (c DirectCommand) UserID() int64 { return c.User }
func (c DirectCommand) ChatID() int64 { return c.Chat }
func (c DirectCommand) Route() string { return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/")) }
func (c DirectCommand) Args() string  { return strings.TrimSpace(c.Arguments) }

func (c DirectCommand) Respond(ctx context.Context, text string) error {
	return respond(ctx, c.Out, text)
}

// ButtonPress is an inline keyboard callback. Data is "route" or "route:args".
type ButtonPress struct {
	User int64
	Chat int64
	Data string
	Out  Responder
}

func (b ButtonPress) UserID() int64 { return b.User }
func (b ButtonPress) ChatID() int64 { return b.Chat }

func (b ButtonPress) Route() string {
	route, _, _ := strings.Cut(strings.TrimSpace(b.Data), ":")
	return strings.ToLower(route)
}

func (b ButtonPress) Args() string {
	_, args, _ := strings.Cut(strings.TrimSpace(b.Data), ":")
	return strings.TrimSpace(args)
}

func (b ButtonPress) Respond(ctx context.Context, text string) error {
	return respond(ctx, b.Out, text)
}

func respond(ctx context.Context, out Responder, text string) error {
	if out == nil {
		return nil
	}
	return out.Respond(ctx, text)
}

// Transcript collects responses so a synchronous caller can return them.
type Transcript struct {
	mu    sync.Mutex
	lines []string
}

func (t *Transcript) Respond(_ context.Context, text string) error {
	t.mu.Lock()
	t.lines = append(t.lines, text)
	t.mu.Unlock()
	return nil
}

func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
