// Package menu implements the 菜单 plugin: it lists the command tips of
// every enabled plugin in the current registry snapshot. Registered by
// main because it needs the registry itself.
package menu

import (
	"context"
	"strings"

	"plugbot/internal/message"
	"plugbot/internal/plugin"
)

// Factory builds the menu handler around the live registry.
type Factory struct {
	Registry *plugin.Registry
}

func (Factory) Name() string { return "Menu" }

func (f Factory) New(settings map[string]any) (plugin.Handler, error) {
	header := plugin.StringSetting(settings, "header", "可用功能:")
	return &handler{reg: f.Registry, header: header}, nil
}

type handler struct {
	reg    *plugin.Registry
	header string
}

func (h *handler) Handle(ctx context.Context, msg message.Message) (string, error) {
	return render(h.header, h.reg.Snapshot()), nil
}

func render(header string, snap *plugin.Snapshot) string {
	var b strings.Builder
	b.WriteString(header)
	for _, p := range snap.Ordered() {
		if !p.Enabled || p.Tip == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(p.Tip)
	}
	return b.String()
}
