package credits

import (
	"context"
	"sync"
	"testing"
	"time"

	"plugbot/internal/credit"
	"plugbot/internal/message"
)

type memStore struct {
	mu       sync.Mutex
	balances map[string]int
	signIns  map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{balances: map[string]int{}, signIns: map[string]time.Time{}}
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

func (s *memStore) LastSignIn(userID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signIns[userID], nil
}

func (s *memStore) SetLastSignIn(userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signIns[userID] = at
	return nil
}

func (s *memStore) Close() error { return nil }

func newHandler(t *testing.T, store *memStore) *handler {
	t.Helper()
	f := Factory{Ledger: credit.NewLedger(store), Store: store}
	h, err := f.New(map[string]any{"sign-in-award": 3})
	if err != nil {
		t.Fatal(err)
	}
	return h.(*handler)
}

func msg(sender, text string) message.Message {
	return message.Message{Sender: sender, Chat: sender, Text: text}
}

func TestBalanceQuery(t *testing.T) {
	store := newMemStore()
	store.SetBalance("u1", 12)
	h := newHandler(t, store)

	out, err := h.Handle(context.Background(), msg("u1", "查询积分"))
	if err != nil {
		t.Fatal(err)
	}
	if out != "当前积分: 12" {
		t.Errorf("got %q", out)
	}
}

func TestSignInAwardsOncePerDay(t *testing.T) {
	store := newMemStore()
	h := newHandler(t, store)

	out, err := h.Handle(context.Background(), msg("u1", "签到"))
	if err != nil {
		t.Fatal(err)
	}
	if out != "签到成功，获得 3 积分，当前积分: 3" {
		t.Errorf("first sign-in: got %q", out)
	}

	out, err = h.Handle(context.Background(), msg("u1", "签到"))
	if err != nil {
		t.Fatal(err)
	}
	if out != "今天已经签到过了" {
		t.Errorf("second sign-in: got %q", out)
	}
	if bal, _ := store.Balance("u1"); bal != 3 {
		t.Errorf("balance = %d, want 3", bal)
	}
}

func TestSignInResetsNextDay(t *testing.T) {
	store := newMemStore()
	store.SetLastSignIn("u1", time.Now().AddDate(0, 0, -1))
	h := newHandler(t, store)

	out, err := h.Handle(context.Background(), msg("u1", "签到"))
	if err != nil {
		t.Fatal(err)
	}
	if out == "今天已经签到过了" {
		t.Error("yesterday's sign-in must not block today's")
	}
}

func TestFactoryRejectsBadAward(t *testing.T) {
	f := Factory{Ledger: credit.NewLedger(newMemStore()), Store: newMemStore()}
	if _, err := f.New(map[string]any{"sign-in-award": 0}); err == nil {
		t.Error("expected error for non-positive award")
	}
}
