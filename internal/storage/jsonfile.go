package storage

import (
	"time"

	"github.com/rs/zerolog"

	"plugbot/datastore"
)

// userRecord is the stored shape of one user, keyed "user:<id>".
type userRecord struct {
	Balance    int       `json:"balance"`
	LastSignIn time.Time `json:"last_sign_in,omitempty"`
}

// JSONStore keeps user records in a datastore-backed JSON file.
type JSONStore struct {
	ds *datastore.DataStore
}

// NewJSONStore opens the JSON file store at path.
func NewJSONStore(path string, log zerolog.Logger) (*JSONStore, error) {
	ds, err := datastore.New(path, log)
	if err != nil {
		return nil, err
	}
	return &JSONStore{ds: ds}, nil
}

func userKey(id string) string { return "user:" + id }

func (s *JSONStore) get(userID string) (userRecord, error) {
	var rec userRecord
	_, err := s.ds.Get(userKey(userID), &rec)
	return rec, err
}

func (s *JSONStore) Balance(userID string) (int, error) {
	rec, err := s.get(userID)
	return rec.Balance, err
}

func (s *JSONStore) SetBalance(userID string, balance int) error {
	rec, err := s.get(userID)
	if err != nil {
		return err
	}
	rec.Balance = balance
	return s.ds.Put(userKey(userID), rec)
}

func (s *JSONStore) LastSignIn(userID string) (time.Time, error) {
	rec, err := s.get(userID)
	return rec.LastSignIn, err
}

func (s *JSONStore) SetLastSignIn(userID string, at time.Time) error {
	rec, err := s.get(userID)
	if err != nil {
		return err
	}
	rec.LastSignIn = at
	return s.ds.Put(userKey(userID), rec)
}

func (s *JSONStore) Close() error {
	return s.ds.Close()
}
