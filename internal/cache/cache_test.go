package cache

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestKeyIsStableAndScoped(t *testing.T) {
	a := Key("video", "", "users/abc/clip.mp4")
	b := Key("video", "", "users/abc/clip.mp4")
	c := Key("image", "", "users/abc/clip.mp4")
	d := Key("video", "conv-1", "users/abc/clip.mp4")

	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
	if a == c {
		t.Fatal("different kinds produced the same key")
	}
	if a == d {
		t.Fatal("different conversations produced the same key")
	}
	if len(a) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(a))
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payload := Payload{
		FinalMessage:   "done",
		ConversationID: "conv-1",
		ProviderMeta:   map[string]any{"tokens": float64(12)},
	}
	if err := store.Put(ctx, "k1", payload, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if got.FinalMessage != "done" || got.ConversationID != "conv-1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestMemoryStoreExpiredEntryIsMiss(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	store.now = func() time.Time { return base }
	ctx := context.Background()

	if err := store.Put(ctx, "k1", Payload{FinalMessage: "done"}, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestPGStoreGetMissOnNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)
	mock.ExpectQuery("SELECT payload, expires_at FROM response_cache").
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "expires_at"}))

	_, ok, err := store.Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreGetExpiredDeletesAndMisses(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)
	past := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT payload, expires_at FROM response_cache").
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "expires_at"}).
			AddRow([]byte(`{"final_message":"stale"}`), past))
	mock.ExpectExec("DELETE FROM response_cache").
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, ok, err := store.Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss for expired entry")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStorePutUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)
	mock.ExpectExec("INSERT INTO response_cache").
		WithArgs("k1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Put(context.Background(), "k1", Payload{FinalMessage: "done"}, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
