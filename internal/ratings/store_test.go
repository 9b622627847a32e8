package ratings

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/catalog"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestStore(t *testing.T, ids []string) (*Store, *gorm.DB, *DeletionDispatcher) {
	t.Helper()

	dsn := fmt.Sprintf("file:shipmate_ratings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Rating{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	dispatcher := NewDeletionDispatcher(nil)
	store, err := NewStore(StoreConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: ids},
		Clock:      func() time.Time { return time.Unix(1700000600, 0).UTC() },
		Events:     dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db, dispatcher
}

func TestAppendAssignsIdentityAndCreationTimestamp(t *testing.T) {
	store, db, _ := newTestStore(t, []string{"rating-1"})

	items := NormalizeItems(map[string]RawCriterionEntry{
		string(catalog.CriterionFood): {Score: 4.0, Note: "fine"},
	})
	stored, err := store.Append(context.Background(), "ship-1", NewRating{
		SubmitterUserID:      "user-1",
		SubmitterDisplayName: "Pilot One",
		DisembarkationDate:   time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		CabinType:            CabinTypeSingle,
		Items:                items,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ID != "rating-1" {
		t.Fatalf("unexpected rating id %q", stored.ID)
	}
	if stored.CreatedAt != time.Unix(1700000600, 0).UTC() {
		t.Fatalf("expected store-assigned creation timestamp, got %v", stored.CreatedAt)
	}

	var row Rating
	if err := db.First(&row).Error; err != nil {
		t.Fatalf("failed to load stored rating: %v", err)
	}
	if row.ShipID != "ship-1" {
		t.Fatalf("unexpected ship id %q", row.ShipID)
	}
	decoded, err := DecodeItems(row.ItemsJSON)
	if err != nil {
		t.Fatalf("failed to decode items: %v", err)
	}
	if len(decoded) != len(catalog.All()) {
		t.Fatalf("expected complete items map, got %d entries", len(decoded))
	}
}

func TestListForShipReturnsOnlyThatShipsRatings(t *testing.T) {
	store, _, _ := newTestStore(t, []string{"rating-1", "rating-2", "rating-3"})

	ctx := context.Background()
	for _, shipID := range []string{"ship-1", "ship-1", "ship-2"} {
		if _, err := store.Append(ctx, shipID, NewRating{SubmitterUserID: "user-1", Items: NormalizeItems(nil)}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	all, err := store.ListForShip(ctx, "ship-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 ratings for ship-1, got %d", len(all))
	}
}

func TestDeletePublishesDeletionEvent(t *testing.T) {
	store, _, dispatcher := newTestStore(t, []string{"rating-1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := dispatcher.Subscribe(ctx)
	defer unsubscribe()

	if _, err := store.Append(ctx, "ship-1", NewRating{SubmitterUserID: "user-1", Items: NormalizeItems(nil)}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.Delete(ctx, "ship-1", "rating-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	select {
	case event := <-events:
		if event.ShipID != "ship-1" || event.RatingID != "rating-1" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected deletion event")
	}

	remaining, err := store.ListForShip(ctx, "ship-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected rating row removed, got %d", len(remaining))
	}
}

func TestDeleteUnknownRatingReturnsNotFound(t *testing.T) {
	store, _, _ := newTestStore(t, nil)

	err := store.Delete(context.Background(), "ship-1", "missing")
	if !errors.Is(err, ErrRatingNotFound) {
		t.Fatalf("expected ErrRatingNotFound, got %v", err)
	}
}

func TestSortByRecencyFallsBackToDisembarkationDate(t *testing.T) {
	legacy := Rating{
		ID:                 "legacy",
		DisembarkationDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	older := Rating{
		ID:        "older",
		CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	newest := Rating{
		ID:        "newest",
		CreatedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}

	all := []Rating{older, legacy, newest}
	SortByRecency(all)

	expected := []string{"newest", "legacy", "older"}
	for position, id := range expected {
		if all[position].ID != id {
			t.Fatalf("expected %q at position %d, got %q", id, position, all[position].ID)
		}
	}
}
