// Package credits implements the 查询积分 / 签到 plugin: balance queries and
// a once-per-day sign-in award. Unlike the self-registering handlers it
// needs the live ledger and store, so main registers its factory
// explicitly.
package credits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"plugbot/internal/credit"
	"plugbot/internal/message"
	"plugbot/internal/plugin"
	"plugbot/internal/storage"
)

// Factory builds the credits handler around the shared ledger and store.
type Factory struct {
	Ledger *credit.Ledger
	Store  storage.Store
}

func (Factory) Name() string { return "Points" }

func (f Factory) New(settings map[string]any) (plugin.Handler, error) {
	award := plugin.IntSetting(settings, "sign-in-award", 3)
	if award <= 0 {
		return nil, fmt.Errorf("%w: sign-in-award must be positive", plugin.ErrConfigInvalid)
	}
	return &handler{ledger: f.Ledger, store: f.Store, award: award}, nil
}

type handler struct {
	ledger *credit.Ledger
	store  storage.Store
	award  int
}

func (h *handler) Handle(ctx context.Context, msg message.Message) (string, error) {
	if strings.HasPrefix(strings.TrimSpace(msg.Text), "签到") {
		return h.signIn(msg.Sender)
	}
	return h.query(msg.Sender)
}

func (h *handler) query(userID string) (string, error) {
	bal, err := h.ledger.Balance(userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("当前积分: %d", bal), nil
}

func (h *handler) signIn(userID string) (string, error) {
	last, err := h.store.LastSignIn(userID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if sameDay(last, now) {
		return "今天已经签到过了", nil
	}

	if err := h.store.SetLastSignIn(userID, now); err != nil {
		return "", err
	}
	if err := h.ledger.Deposit(userID, h.award); err != nil {
		return "", err
	}
	bal, err := h.ledger.Balance(userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("签到成功，获得 %d 积分，当前积分: %d", h.award, bal), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
