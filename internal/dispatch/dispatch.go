// Package dispatch drives a message through filter, router, ledger and
// handler, and exposes the in-chat administrative reload surface.
//
// Each chat gets a serial queue so messages within one chat are never
// reordered; different chats run in parallel. Handler invocations are
// bounded by a timeout and isolated: a panicking or hanging handler costs
// its user nothing and never stalls other chats.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"plugbot/internal/config"
	"plugbot/internal/credit"
	"plugbot/internal/filter"
	"plugbot/internal/gateway"
	"plugbot/internal/message"
	"plugbot/internal/plugin"
	"plugbot/internal/router"
)

// Handler failure taxonomy. Users see a sanitized notice, never these.
var (
	ErrExecutionFailed = errors.New("handler execution failed")
	ErrHandlerTimeout  = errors.New("handler timeout")
)

// Administrative commands, usable only by senders in the admin set.
const (
	cmdReloadOne = "重载插件"
	cmdReloadAll = "重载所有插件"
)

// User-facing notices. Internal error details stay in the logs.
const (
	noticeNoCredit    = "积分不足，无法使用该功能"
	noticeHandlerFail = "处理失败，请稍后再试"
	noticeTimeout     = "处理超时，请稍后再试"
)

// Dispatcher sequences Filter → Router → Ledger → Handler → response.
type Dispatcher struct {
	cfg    *config.Config
	filt   *filter.Filter
	reg    *plugin.Registry
	ledger *credit.Ledger
	sink   gateway.Sink
	log    zerolog.Logger

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	chatMu sync.Mutex
	chats  map[string]chan message.Message
	wg     sync.WaitGroup
}

// New creates a Dispatcher. The registry must already be bootstrapped.
func New(cfg *config.Config, filt *filter.Filter, reg *plugin.Registry, ledger *credit.Ledger, sink gateway.Sink, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		filt:     filt,
		reg:      reg,
		ledger:   ledger,
		sink:     sink,
		log:      log.With().Str("comp", "dispatch").Logger(),
		limiters: make(map[string]*rate.Limiter),
		chats:    make(map[string]chan message.Message),
	}
}

// Run consumes the source until it ends or ctx is cancelled, then waits
// for in-flight chat queues to drain.
func (d *Dispatcher) Run(ctx context.Context, src gateway.Source) {
	for {
		msg, ok := src.Receive(ctx)
		if !ok {
			break
		}
		d.enqueue(ctx, msg)
	}

	d.chatMu.Lock()
	for _, ch := range d.chats {
		close(ch)
	}
	d.chats = make(map[string]chan message.Message)
	d.chatMu.Unlock()

	d.wg.Wait()
}

// enqueue hands the message to its chat's serial queue, starting the queue
// worker on first use. Queueing blocks when a chat is backed up, which
// pushes backpressure to the source instead of reordering.
func (d *Dispatcher) enqueue(ctx context.Context, msg message.Message) {
	d.chatMu.Lock()
	ch, ok := d.chats[msg.Chat]
	if !ok {
		ch = make(chan message.Message, 64)
		d.chats[msg.Chat] = ch
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for m := range ch {
				d.handle(ctx, m)
			}
		}()
	}
	d.chatMu.Unlock()
	ch <- msg
}

// handle runs the full pipeline for one message.
func (d *Dispatcher) handle(ctx context.Context, msg message.Message) {
	if !d.allowRate(msg.Sender) {
		d.log.Debug().Str("sender", msg.Sender).Msg("rate limited")
		return
	}
	if !d.filt.Accept(msg) {
		d.log.Debug().Str("sender", msg.Sender).Str("chat", msg.Chat).Msg("filtered out")
		return
	}

	isAdmin := d.cfg.IsAdmin(msg.Sender)
	text := strings.TrimSpace(msg.Text)

	if isAdmin && d.handleAdmin(msg.Chat, text) {
		return
	}

	match, ok := router.Route(msg, d.reg.Snapshot())
	if !ok {
		return // silent drop, not an error
	}

	id := uuid.NewString()
	log := d.log.With().
		Str("id", id).
		Str("plugin", match.Plugin.Name).
		Str("sender", msg.Sender).
		Str("chat", msg.Chat).
		Logger()

	charged, err := d.ledger.Authorize(msg.Sender, isAdmin, d.filt.Whitelisted(msg.Sender), match.Plugin)
	if err != nil {
		if errors.Is(err, credit.ErrInsufficientBalance) {
			log.Info().Int("price", match.Plugin.Price).Msg("authorization denied")
			d.send(msg.Chat, noticeNoCredit)
			return
		}
		log.Error().Err(err).Msg("ledger error")
		d.send(msg.Chat, noticeHandlerFail)
		return
	}

	reply, err := d.invoke(ctx, match.Plugin, msg)
	if err != nil {
		if charged {
			if rerr := d.ledger.Refund(msg.Sender, match.Plugin); rerr != nil {
				log.Error().Err(rerr).Msg("refund failed")
			}
		}
		notice := noticeHandlerFail
		if errors.Is(err, ErrHandlerTimeout) {
			notice = noticeTimeout
		}
		log.Warn().Err(err).Msg("handler failed")
		d.send(msg.Chat, notice)
		return
	}

	log.Info().Bool("charged", charged).Msg("handled")
	if reply != "" {
		d.send(msg.Chat, reply)
	}
}

// invoke runs the handler with a deadline and panic isolation. On timeout
// the handler goroutine is left to finish on its own; its response is
// dropped.
func (d *Dispatcher) invoke(ctx context.Context, p *plugin.Plugin, msg message.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: panic: %v", ErrExecutionFailed, r)}
			}
		}()
		reply, err := p.Handler.Handle(ctx, msg)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrExecutionFailed, err)
		}
		done <- result{reply: reply, err: err}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w after %s", ErrHandlerTimeout, d.cfg.HandlerTimeout)
	}
}

// handleAdmin intercepts reload commands. Returns true when the message
// was an admin command, handled or not.
func (d *Dispatcher) handleAdmin(chatID, text string) bool {
	switch {
	case text == cmdReloadAll:
		if err := d.reg.ReloadAll(); err != nil {
			d.send(chatID, fmt.Sprintf("插件重载失败:\n%v", err))
		} else {
			d.send(chatID, fmt.Sprintf("所有插件重载成功 (%d)", len(d.reg.Snapshot().Names())))
		}
		return true

	case strings.HasPrefix(text, cmdReloadOne+" "):
		name := strings.TrimSpace(strings.TrimPrefix(text, cmdReloadOne))
		if name == "" {
			return true
		}
		if err := d.reg.ReloadOne(name); err != nil {
			d.send(chatID, fmt.Sprintf("插件 %s 重载失败: %v", name, err))
		} else {
			d.send(chatID, fmt.Sprintf("插件 %s 重载成功", name))
		}
		return true
	}
	return false
}

// allowRate applies the per-sender flood limit.
func (d *Dispatcher) allowRate(sender string) bool {
	if d.cfg.SenderRate <= 0 {
		return true
	}
	d.limMu.Lock()
	lim, ok := d.limiters[sender]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.cfg.SenderRate), d.cfg.SenderBurst)
		d.limiters[sender] = lim
	}
	d.limMu.Unlock()
	return lim.Allow()
}

// send delivers a response, dropping it on transport failure.
func (d *Dispatcher) send(chatID, text string) {
	if err := d.sink.Send(chatID, text); err != nil {
		d.log.Warn().Err(err).Str("chat", chatID).Msg("send failed, response dropped")
	}
}
