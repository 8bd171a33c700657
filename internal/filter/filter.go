// Package filter decides whether an inbound message is processed at all.
// It runs before routing, so rejected traffic never reaches a handler and
// never touches the credit ledger.
package filter

import "plugbot/internal/message"

// Mode selects which list, if any, gates incoming messages.
type Mode int

const (
	ModeNone Mode = iota
	ModeWhitelist
	ModeBlacklist
)

// ParseMode maps a config string to a Mode. Unknown strings mean ModeNone.
func ParseMode(s string) Mode {
	switch s {
	case "whitelist":
		return ModeWhitelist
	case "blacklist":
		return ModeBlacklist
	default:
		return ModeNone
	}
}

// Filter is a pure accept/reject predicate over sender and chat identifiers.
// Identifiers match exactly; there is no glob or prefix logic here.
type Filter struct {
	mode Mode
	ids  map[string]struct{}
}

// New builds a Filter for the given mode over the given identifiers.
// For ModeNone the identifier list is ignored.
func New(mode Mode, ids []string) *Filter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &Filter{mode: mode, ids: set}
}

// Accept reports whether the message should be processed.
func (f *Filter) Accept(msg message.Message) bool {
	switch f.mode {
	case ModeWhitelist:
		return f.listed(msg)
	case ModeBlacklist:
		return !f.listed(msg)
	default:
		return true
	}
}

// Whitelisted reports whether the sender is on an active whitelist. The
// ledger consults this for the whitelist_ignore price bypass; it is always
// false outside whitelist mode.
func (f *Filter) Whitelisted(sender string) bool {
	if f.mode != ModeWhitelist {
		return false
	}
	_, ok := f.ids[sender]
	return ok
}

func (f *Filter) listed(msg message.Message) bool {
	if _, ok := f.ids[msg.Chat]; ok {
		return true
	}
	_, ok := f.ids[msg.Sender]
	return ok
}
