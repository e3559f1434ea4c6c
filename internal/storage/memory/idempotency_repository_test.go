package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing("idem-key-1", "hash-1", ttl)
	if err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected status %s, got %s", domain.IdempotencyStatusProcessing, created.Status)
	}

	got, err := repo.Get("idem-key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RequestHash != "hash-1" {
		t.Fatalf("expected request_hash hash-1, got %s", got.RequestHash)
	}
	if !got.TTLAt.Equal(ttl) {
		t.Fatalf("expected ttl %s, got %s", ttl, got.TTLAt)
	}
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("idem-key-2", "hash-a", ttl); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}

	if _, err := repo.CreateProcessing("idem-key-2", "hash-a", ttl); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}

	if _, err := repo.CreateProcessing("idem-key-2", "hash-b", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestIdempotencyRepository_MarkDoneAndDeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	expiredTTL := time.Now().UTC().Add(-time.Minute)
	activeTTL := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("idem-expired", "hash-expired", expiredTTL); err != nil {
		t.Fatalf("CreateProcessing expired failed: %v", err)
	}
	if _, err := repo.CreateProcessing("idem-active", "hash-active", activeTTL); err != nil {
		t.Fatalf("CreateProcessing active failed: %v", err)
	}

	if err := repo.MarkDone("idem-active", "order-42"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	active, err := repo.Get("idem-active")
	if err != nil {
		t.Fatalf("Get active failed: %v", err)
	}
	if active.Status != domain.IdempotencyStatusDone {
		t.Fatalf("expected status %s, got %s", domain.IdempotencyStatusDone, active.Status)
	}
	if active.OrderID != "order-42" {
		t.Fatalf("expected order id order-42, got %s", active.OrderID)
	}

	removed, err := repo.DeleteExpired(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected removed=1, got %d", removed)
	}

	if _, err := repo.Get("idem-expired"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected expired key to be deleted, got %v", err)
	}
}

func TestIdempotencyRepository_MarkFailed(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("idem-key-3", "hash-c", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if err := repo.MarkFailed("idem-key-3", "insufficient stock"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	rec, err := repo.Get("idem-key-3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != domain.IdempotencyStatusFailed {
		t.Fatalf("expected status failed, got %s", rec.Status)
	}
	if rec.Failure != "insufficient stock" {
		t.Fatalf("unexpected failure text: %q", rec.Failure)
	}
}
