package group

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/transport"
)

// CommandFunc handles one bot command invocation.
type CommandFunc func(args []string, from domain.PeerID)

// Bot is a Client that dispatches group messages of the form
// "/name args..." to registered command handlers. Messages without the
// leading slash are ignored by the dispatch layer.
type Bot struct {
	*Client

	mu       sync.Mutex
	commands map[string]CommandFunc
}

func NewBot(peer transport.Peer) *Bot {
	b := &Bot{
		Client:   NewClient(peer),
		commands: make(map[string]CommandFunc),
	}
	b.Events().Subscribe(EventMessage, func(data any) {
		if msg, ok := data.(MessageEvent); ok {
			b.dispatch(msg)
		}
	})
	return b
}

// OnCommand registers a handler for "/name". Registering the same name
// again replaces the previous handler.
func (b *Bot) OnCommand(name string, fn CommandFunc) {
	name = strings.TrimPrefix(name, "/")
	b.mu.Lock()
	b.commands[name] = fn
	b.mu.Unlock()
}

// RemoveCommand unregisters a handler.
func (b *Bot) RemoveCommand(name string) {
	name = strings.TrimPrefix(name, "/")
	b.mu.Lock()
	delete(b.commands, name)
	b.mu.Unlock()
}

// Commands lists registered command names, sorted.
func (b *Bot) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.commands))
	for name := range b.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (b *Bot) dispatch(msg MessageEvent) {
	if !strings.HasPrefix(msg.Text, "/") {
		return
	}
	fields := splitCommand(msg.Text)
	if len(fields) == 0 {
		return
	}
	name := strings.TrimPrefix(fields[0], "/")

	b.mu.Lock()
	fn, ok := b.commands[name]
	b.mu.Unlock()
	if !ok {
		return
	}

	log.Debug().Str("module", "group.bot").Str("command", name).Str("from", string(msg.From)).Msg("dispatch")
	b.invoke(name, fn, fields[1:], msg.From)
}

// invoke shields the dispatch loop from a failing handler.
func (b *Bot) invoke(name string, fn CommandFunc, args []string, from domain.PeerID) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "group.bot").Str("command", name).Any("panic", r).Msg("command handler panicked")
			b.Events().Publish(EventError, ErrorEvent{
				Op:  "command " + name,
				Err: fmt.Errorf("command %q panicked: %v", name, r),
			})
		}
	}()
	fn(args, from)
}

// splitCommand understands shell-style quoting and falls back to a plain
// whitespace split when the quoting is malformed.
func splitCommand(text string) []string {
	fields, err := shlex.Split(text)
	if err != nil {
		return strings.Fields(text)
	}
	return fields
}
