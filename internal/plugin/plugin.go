// Package plugin holds the command-handler contract, per-plugin config
// loading, and the hot-reloadable registry snapshot.
//
// A handler implementation registers a Factory in its init(), the same way
// command packages self-register in a command registry. Loading a plugin
// means reading its YAML config from the plugin directory and asking the
// factory for a fresh handler; reloading builds a brand new Plugin and
// swaps it into an immutable snapshot, so in-flight dispatches keep running
// against the instance they started with.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"plugbot/internal/message"
)

// Handler executes one routed message and returns the reply text.
// Implementations must be safe for concurrent use; the dispatcher bounds
// each call with a deadline context.
type Handler interface {
	Handle(ctx context.Context, msg message.Message) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg message.Message) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, msg message.Message) (string, error) {
	return f(ctx, msg)
}

// Factory constructs a handler from its plugin settings. New is called on
// every load and reload and must return a fresh, fully initialized handler;
// a returned error aborts the load and leaves any previous instance active.
type Factory interface {
	Name() string
	New(settings map[string]any) (Handler, error)
}

// MatchMode controls how a command token is matched against message text.
type MatchMode int

const (
	// MatchPrefix matches when the text starts with the command token.
	MatchPrefix MatchMode = iota
	// MatchToken matches when the first whitespace-delimited token equals
	// the command token.
	MatchToken
)

// Plugin is one loaded command handler plus its routing and pricing
// metadata. Instances are immutable after construction; enabling or
// disabling produces a copy inside a new registry snapshot.
type Plugin struct {
	Name            string
	Enabled         bool
	Commands        []string
	Tip             string
	Price           int
	AdminIgnore     bool
	WhitelistIgnore bool
	Match           MatchMode
	CaseInsensitive bool
	Order           int // factory registration order, router tie-break
	Handler         Handler
}

// Load failure taxonomy. A *LoadError always wraps one of these.
var (
	ErrConfigInvalid = errors.New("config invalid")
	ErrHandlerInit   = errors.New("handler init failed")
	ErrUnknown       = errors.New("unknown plugin")
)

// LoadError reports why a plugin failed to (re)load.
type LoadError struct {
	Plugin string
	Err    error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Plugin, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

var (
	factoriesMu sync.Mutex
	factories   = map[string]Factory{}
	factoryList []Factory // registration order, drives routing tie-break
)

// RegisterFactory adds a handler factory. Usually called from init() in the
// handler's package; registering the same name twice panics, a duplicate is
// always a programming error.
func RegisterFactory(f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[f.Name()]; dup {
		panic("plugin: duplicate factory " + f.Name())
	}
	factories[f.Name()] = f
	factoryList = append(factoryList, f)
}

func factory(name string) (Factory, int, bool) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	f, ok := factories[name]
	if !ok {
		return nil, 0, false
	}
	for i, e := range factoryList {
		if e.Name() == name {
			return f, i, true
		}
	}
	return f, len(factoryList), true
}

// FactoryNames returns registered factory names in registration order.
func FactoryNames() []string {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	names := make([]string, 0, len(factoryList))
	for _, f := range factoryList {
		names = append(names, f.Name())
	}
	return names
}
