// Package weather implements the 天气 lookup plugin over a wttr.in-style
// HTTP endpoint.
package weather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"plugbot/internal/message"
	"plugbot/internal/plugin"
)

type factory struct{}

func (factory) Name() string { return "GetWeather" }

func (factory) New(settings map[string]any) (plugin.Handler, error) {
	base := plugin.StringSetting(settings, "base-url", "https://wttr.in")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%w: bad base-url: %v", plugin.ErrConfigInvalid, err)
	}
	return &handler{
		baseURL: strings.TrimRight(base, "/"),
		format:  plugin.StringSetting(settings, "format", "3"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type handler struct {
	baseURL string
	format  string
	client  *http.Client
}

func (h *handler) Handle(ctx context.Context, msg message.Message) (string, error) {
	city := argAfterCommand(msg.Text)
	if city == "" {
		return "用法: 天气 <城市>", nil
	}

	u := fmt.Sprintf("%s/%s?format=%s", h.baseURL, url.PathEscape(city), url.QueryEscape(h.format))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Language", "zh")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("weather http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out := strings.TrimSpace(string(body))
	if out == "" {
		return "", fmt.Errorf("weather empty response")
	}
	return out, nil
}

// argAfterCommand drops the leading command token ("天气 北京" → "北京").
func argAfterCommand(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 {
		return ""
	}
	return strings.Join(fields[1:], " ")
}

func init() {
	plugin.RegisterFactory(factory{})
}
