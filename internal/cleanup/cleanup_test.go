package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"coach-backend/internal/shared/storage/object"
)

type fakeStore struct {
	infos     []object.Info
	deleted   []string
	deleteErr map[string]error
}

func (f *fakeStore) List(ctx context.Context) ([]object.Info, error) {
	return f.infos, nil
}

func (f *fakeStore) Delete(ctx context.Context, storageKey string) error {
	if err := f.deleteErr[storageKey]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, storageKey)
	return nil
}

func TestRunDeletesOldestUntilLowWater(t *testing.T) {
	now := time.Now()
	store := &fakeStore{infos: []object.Info{
		{Key: "c", SizeBytes: 100, LastModified: now.Add(-1 * time.Hour)},
		{Key: "a", SizeBytes: 100, LastModified: now.Add(-3 * time.Hour)},
		{Key: "b", SizeBytes: 100, LastModified: now.Add(-2 * time.Hour)},
	}}
	svc := NewService(store, 150, 0)

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.deleted) != 2 {
		t.Fatalf("deleted %v, want 2 oldest", store.deleted)
	}
	if store.deleted[0] != "a" || store.deleted[1] != "b" {
		t.Fatalf("deletion order = %v, want oldest first", store.deleted)
	}
	if report.RemainBytes != 100 {
		t.Fatalf("RemainBytes = %d, want 100", report.RemainBytes)
	}
}

func TestRunDeletesExpiredEvenBelowLowWater(t *testing.T) {
	now := time.Now()
	store := &fakeStore{infos: []object.Info{
		{Key: "old", SizeBytes: 10, LastModified: now.Add(-40 * 24 * time.Hour)},
		{Key: "new", SizeBytes: 10, LastModified: now.Add(-time.Hour)},
	}}
	svc := NewService(store, 1000, 30*24*time.Hour)

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "old" {
		t.Fatalf("deleted %v, want [old]", store.deleted)
	}
	if report.Deleted != 1 {
		t.Fatalf("Deleted = %d, want 1", report.Deleted)
	}
}

func TestRunNoWorkWhenUnderLimits(t *testing.T) {
	now := time.Now()
	store := &fakeStore{infos: []object.Info{
		{Key: "a", SizeBytes: 10, LastModified: now.Add(-time.Hour)},
	}}
	svc := NewService(store, 1000, 30*24*time.Hour)

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Deleted != 0 || len(store.deleted) != 0 {
		t.Fatalf("unexpected deletions: %+v %v", report, store.deleted)
	}
}

func TestRunSkipsFailedDeletes(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		infos: []object.Info{
			{Key: "a", SizeBytes: 100, LastModified: now.Add(-3 * time.Hour)},
			{Key: "b", SizeBytes: 100, LastModified: now.Add(-2 * time.Hour)},
		},
		deleteErr: map[string]error{"a": errors.New("locked")},
	}
	svc := NewService(store, 50, 0)

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "b" {
		t.Fatalf("deleted %v, want [b]", store.deleted)
	}
	if report.Deleted != 1 {
		t.Fatalf("Deleted = %d, want 1", report.Deleted)
	}
}
