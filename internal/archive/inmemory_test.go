package archive

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		err := s.SaveExchange(ctx, ExchangeRecord{
			SessionID: "s1",
			UserText:  text,
			ReplyText: "re: " + text,
		})
		if err != nil {
			t.Fatalf("SaveExchange() error = %v", err)
		}
	}

	got, err := s.RecentBySession(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("RecentBySession() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].UserText != "second" || got[1].UserText != "third" {
		t.Fatalf("recent window = [%q, %q], want [second, third]", got[0].UserText, got[1].UserText)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("record missing generated fields: %+v", got[0])
	}
}

func TestInMemoryStoreUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.RecentBySession(context.Background(), "nope", 5)
	if err != nil {
		t.Fatalf("RecentBySession() error = %v", err)
	}
	if got != nil {
		t.Fatalf("records = %v, want nil", got)
	}
}

func TestFactoryDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", s)
	}
}
