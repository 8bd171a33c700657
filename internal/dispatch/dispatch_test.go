package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugbot/internal/config"
	"plugbot/internal/credit"
	"plugbot/internal/filter"
	"plugbot/internal/gateway"
	"plugbot/internal/message"
	"plugbot/internal/plugin"
)

// fakeFactory builds handlers whose behavior is driven by the plugin's
// settings block: echo (default), sleep, panic, or dify (rejects an empty
// api-key as invalid config).
type fakeFactory struct{ name string }

func (f fakeFactory) Name() string { return f.name }

func (f fakeFactory) New(settings map[string]any) (plugin.Handler, error) {
	mode := plugin.StringSetting(settings, "mode", "echo")
	if mode == "dify" && plugin.StringSetting(settings, "api-key", "") == "" {
		return nil, fmt.Errorf("%w: api-key must not be empty", plugin.ErrConfigInvalid)
	}
	reply := plugin.StringSetting(settings, "reply", "ok")
	return plugin.HandlerFunc(func(ctx context.Context, msg message.Message) (string, error) {
		switch mode {
		case "sleep":
			<-ctx.Done()
			return "", ctx.Err()
		case "panic":
			panic("kaboom")
		default:
			return reply, nil
		}
	}), nil
}

func init() {
	plugin.RegisterFactory(fakeFactory{name: "GetWeather"})
	plugin.RegisterFactory(fakeFactory{name: "Dify"})
	plugin.RegisterFactory(fakeFactory{name: "Sleeper"})
}

type memStore struct {
	mu       sync.Mutex
	balances map[string]int
}

func (s *memStore) Balance(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *memStore) SetBalance(userID string, balance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
	return nil
}

type fixture struct {
	t      *testing.T
	cfg    *config.Config
	dir    string
	reg    *plugin.Registry
	store  *memStore
	gw     *gateway.Gateway
	cancel context.CancelFunc
	done   chan struct{}
}

func newFixture(t *testing.T, cfg *config.Config, balances map[string]int) *fixture {
	t.Helper()
	if balances == nil {
		balances = map[string]int{}
	}

	dir := t.TempDir()
	cfg.PluginDir = dir
	if cfg.HandlerTimeout == 0 {
		cfg.HandlerTimeout = 5 * time.Second
	}

	store := &memStore{balances: balances}
	reg := plugin.NewRegistry(dir, zerolog.Nop())
	ids := cfg.Whitelist
	if cfg.FilterMode == "blacklist" {
		ids = cfg.Blacklist
	}
	filt := filter.New(filter.ParseMode(cfg.FilterMode), ids)
	gw := gateway.New(32)

	d := New(cfg, filt, reg, credit.NewLedger(store), gw, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, gw)
		close(done)
	}()

	f := &fixture{t: t, cfg: cfg, dir: dir, reg: reg, store: store, gw: gw, cancel: cancel, done: done}
	t.Cleanup(func() {
		gw.CloseInbound()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return f
}

func (f *fixture) loadPlugin(name, spec string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, name+".yaml"), []byte(spec), 0o644))
	require.NoError(f.t, f.reg.ReloadOne(name))
}

func (f *fixture) send(sender, text string) {
	f.t.Helper()
	msg := message.Message{Sender: sender, Chat: sender, Text: text, Arrived: time.Now()}
	require.NoError(f.t, f.gw.Inject(context.Background(), msg))
}

func (f *fixture) expect(want string) message.Response {
	f.t.Helper()
	select {
	case resp := <-f.gw.Outbound():
		assert.Contains(f.t, resp.Text, want)
		return resp
	case <-time.After(3 * time.Second):
		f.t.Fatalf("timed out waiting for response containing %q", want)
		return message.Response{}
	}
}

func (f *fixture) expectSilence() {
	f.t.Helper()
	select {
	case resp := <-f.gw.Outbound():
		f.t.Fatalf("expected no response, got %q", resp.Text)
	case <-time.After(200 * time.Millisecond):
	}
}

func (f *fixture) balance(userID string) int {
	bal, err := f.store.Balance(userID)
	require.NoError(f.t, err)
	return bal
}

const weatherSpec = "enable: true\ncommands: [\"天气\"]\nprice: 0\nsettings:\n  reply: \"北京: 晴 +25°C\"\n"

const difySpec = "enable: true\ncommands: [\"聊天\"]\nprice: 3\nadmin_ignore: true\nwhitelist_ignore: true\nsettings:\n  mode: dify\n  api-key: sk-test\n  reply: 你好\n"

func TestFreePluginDoesNotCharge(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none"}, map[string]int{"u1": 5})
	f.loadPlugin("GetWeather", weatherSpec)

	f.send("u1", "天气 北京")
	f.expect("晴")
	assert.Equal(t, 5, f.balance("u1"))
}

func TestInsufficientBalanceBlocksHandler(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none"}, map[string]int{"u2": 0})
	f.loadPlugin("Dify", difySpec)

	f.send("u2", "聊天 你好")
	f.expect(noticeNoCredit)
	assert.Equal(t, 0, f.balance("u2"))
}

func TestPaidPluginDeductsOnce(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none"}, map[string]int{"u1": 5})
	f.loadPlugin("Dify", difySpec)

	f.send("u1", "聊天 你好")
	f.expect("你好")
	assert.Equal(t, 2, f.balance("u1"))
}

func TestAdminBypassWithZeroBalance(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none", Admins: []string{"boss"}}, map[string]int{"boss": 0})
	f.loadPlugin("Dify", difySpec)

	f.send("boss", "聊天 你好")
	f.expect("你好")
	assert.Equal(t, 0, f.balance("boss"))
}

func TestFilteredMessageCostsNothing(t *testing.T) {
	cfg := &config.Config{FilterMode: "whitelist", Whitelist: []string{"u1"}}
	f := newFixture(t, cfg, map[string]int{"u1": 5, "outsider": 5})
	f.loadPlugin("GetWeather", weatherSpec)

	f.send("outsider", "天气 北京")
	f.expectSilence()
	assert.Equal(t, 5, f.balance("outsider"))

	f.send("u1", "天气 北京")
	f.expect("晴")
}

func TestUnmatchedMessageDroppedSilently(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none"}, nil)
	f.loadPlugin("GetWeather", weatherSpec)

	f.send("u1", "你好啊")
	f.expectSilence()
}

func TestHandlerTimeoutRefunds(t *testing.T) {
	cfg := &config.Config{FilterMode: "none", HandlerTimeout: 50 * time.Millisecond}
	f := newFixture(t, cfg, map[string]int{"u1": 5})
	f.loadPlugin("Sleeper", "enable: true\ncommands: [\"慢\"]\nprice: 2\nsettings:\n  mode: sleep\n")

	f.send("u1", "慢")
	f.expect(noticeTimeout)
	assert.Equal(t, 5, f.balance("u1"))
}

func TestHandlerPanicIsolated(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none"}, map[string]int{"u1": 5})
	f.loadPlugin("GetWeather", "enable: true\ncommands: [\"天气\"]\nprice: 0\nsettings:\n  mode: panic\n")
	f.loadPlugin("Dify", difySpec)

	f.send("u1", "天气 北京")
	f.expect(noticeHandlerFail)

	// Dispatch keeps serving after the panic.
	f.send("u1", "聊天 你好")
	f.expect("你好")
}

func TestAdminReloadOne(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none", Admins: []string{"boss"}}, nil)
	f.loadPlugin("Dify", difySpec)

	// Break the config: api-key now empty. The reload must fail and the
	// previous instance must keep serving.
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "Dify.yaml"),
		[]byte("enable: true\ncommands: [\"聊天\"]\nprice: 0\nsettings:\n  mode: dify\n  reply: 你好\n"), 0o644))

	f.send("boss", "重载插件 Dify")
	resp := f.expect("重载失败")
	assert.Contains(t, resp.Text, "config invalid")

	f.send("boss", "聊天 你好")
	f.expect("你好")
}

func TestAdminReloadAllReportsFailure(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none", Admins: []string{"boss"}}, map[string]int{"u1": 5})
	f.loadPlugin("GetWeather", weatherSpec)
	f.loadPlugin("Dify", difySpec)

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "Dify.yaml"),
		[]byte("enable: true\ncommands: []\n"), 0o644))

	f.send("boss", "重载所有插件")
	f.expect("重载失败")

	// Registry untouched: the old Dify still matches and charges.
	f.send("u1", "聊天 你好")
	f.expect("你好")
	assert.Equal(t, 2, f.balance("u1"))
}

func TestReloadCommandsIgnoredForNonAdmins(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none", Admins: []string{"boss"}}, nil)
	f.loadPlugin("GetWeather", weatherSpec)

	f.send("u1", "重载所有插件")
	f.expectSilence()
}

func TestPerChatOrderingPreserved(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none"}, nil)
	f.loadPlugin("GetWeather", weatherSpec)

	for i := 0; i < 5; i++ {
		f.send("u1", "天气 北京")
	}
	for i := 0; i < 5; i++ {
		f.expect("晴")
	}
}

func TestSenderRateLimit(t *testing.T) {
	cfg := &config.Config{FilterMode: "none", SenderRate: 1, SenderBurst: 1}
	f := newFixture(t, cfg, nil)
	f.loadPlugin("GetWeather", weatherSpec)

	f.send("u1", "天气 北京")
	f.expect("晴")

	// Burst spent: the immediate follow-up is dropped.
	f.send("u1", "天气 上海")
	f.expectSilence()
}

func TestRouteStripsWhitespace(t *testing.T) {
	f := newFixture(t, &config.Config{FilterMode: "none"}, nil)
	f.loadPlugin("GetWeather", weatherSpec)

	f.send("u1", "   天气 北京  ")
	resp := f.expect("晴")
	assert.False(t, strings.HasPrefix(resp.Text, " "))
}
