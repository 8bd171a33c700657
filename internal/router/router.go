// Package router matches message text against the command surface of the
// current plugin snapshot and selects exactly one handler, or none.
package router

import (
	"strings"

	"plugbot/internal/message"
	"plugbot/internal/plugin"
)

// Match is the routing result: the plugin to invoke and the command token
// that matched.
type Match struct {
	Plugin  *plugin.Plugin
	Command string
}

// Route tests the message against every enabled plugin in snapshot order.
// Plugins are evaluated in their declared load order and the first match
// wins, so command conflicts resolve the same way on every call. No match
// returns false; that is a normal outcome, not an error.
func Route(msg message.Message, snap *plugin.Snapshot) (Match, bool) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Match{}, false
	}

	for _, p := range snap.Ordered() {
		if !p.Enabled {
			continue
		}
		if cmd, ok := matchPlugin(text, p); ok {
			return Match{Plugin: p, Command: cmd}, true
		}
	}
	return Match{}, false
}

func matchPlugin(text string, p *plugin.Plugin) (string, bool) {
	subject := text
	if p.CaseInsensitive {
		subject = strings.ToLower(subject)
	}

	for _, cmd := range p.Commands {
		token := cmd
		if p.CaseInsensitive {
			token = strings.ToLower(token)
		}
		switch p.Match {
		case plugin.MatchToken:
			if firstToken(subject) == token {
				return cmd, true
			}
		default: // MatchPrefix
			if strings.HasPrefix(subject, token) {
				return cmd, true
			}
		}
	}
	return "", false
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
