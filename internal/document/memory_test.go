package document

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCatalogGetNotFound(t *testing.T) {
	catalog := NewMemoryCatalog()

	_, err := catalog.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCatalogCreateAndGet(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemoryCatalog()

	created, err := catalog.Create(ctx, &Document{ID: "d1", Name: "a.pdf", Status: StatusPending})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatal("timestamps must be set on create")
	}

	loaded, err := catalog.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// 取得したコピーへの変更はカタログに影響しない
	loaded.Status = StatusFailed
	reloaded, _ := catalog.Get(ctx, "d1")
	if reloaded.Status != StatusPending {
		t.Fatal("mutating a returned document must not affect the catalog")
	}
}

func TestMemoryCatalogListOrder(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemoryCatalog()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	catalog.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, id := range []string{"d1", "d2", "d3"} {
		if _, err := catalog.Create(ctx, &Document{ID: id, Status: StatusPending}); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	list, err := catalog.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3", len(list))
	}
	// created_at 降順
	if list[0].ID != "d3" || list[2].ID != "d1" {
		t.Fatalf("unexpected order: %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestTransitionStatusCAS(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemoryCatalog()
	if _, err := catalog.Create(ctx, &Document{ID: "d1", Status: StatusPending}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := catalog.TransitionStatus(ctx, "d1", StatusPending, StatusProcessing); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}

	// 2人目のワーカーは同じ遷移に負ける
	err := catalog.TransitionStatus(ctx, "d1", StatusPending, StatusProcessing)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	if err := catalog.TransitionStatus(ctx, "d1", StatusProcessing, StatusCompleted); err != nil {
		t.Fatalf("completion transition failed: %v", err)
	}
	doc, _ := catalog.Get(ctx, "d1")
	if doc.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", doc.Status)
	}
}

func TestTransitionStatusUnknownDocument(t *testing.T) {
	catalog := NewMemoryCatalog()

	err := catalog.TransitionStatus(context.Background(), "missing", StatusPending, StatusProcessing)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Fatal("pending/processing are not terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("completed/failed are terminal")
	}
}

func TestValidOperation(t *testing.T) {
	for _, op := range []Operation{OperationMergePDFs, OperationCompressPDF, OperationConvertToPDF} {
		if !ValidOperation(op) {
			t.Fatalf("operation %s should be valid", op)
		}
	}
	if ValidOperation(Operation("rotate_pages")) {
		t.Fatal("unknown operation should be invalid")
	}
}
