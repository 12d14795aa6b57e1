package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/shopspring/decimal"
)

func TestDiffVariant(t *testing.T) {
	cases := []struct {
		name     string
		mirror   *models.VariantValues
		provider models.ProviderSnapshot
		want     []models.ChangeType
	}{
		{"unchanged", vals(3, "1.00", true), snap("p", "v", 3, "1.00", true), nil},
		{"stock only", vals(25, "1.00", true), snap("p", "v", 0, "1.00", true), []models.ChangeType{models.ChangeTypeStockUpdate}},
		{"equal decimals", vals(3, "1.0", true), snap("p", "v", 3, "1.00", true), nil},
		{
			"fixed order",
			vals(3, "1.00", true),
			snap("p", "v", 4, "2.00", false),
			[]models.ChangeType{models.ChangeTypeStockUpdate, models.ChangeTypePriceChange, models.ChangeTypeAvailabilityChange},
		},
		{"never seen", nil, snap("p", "v", 4, "2.00", false), []models.ChangeType{models.ChangeTypeNewVariant}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DiffVariant(tc.mirror, tc.provider)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d changes, got %+v", len(tc.want), got)
			}
			for i := range got {
				if got[i].Type != tc.want[i] {
					t.Fatalf("change %d: expected %s, got %s", i, tc.want[i], got[i].Type)
				}
			}
		})
	}
}

func TestDiffVariant_CarriesOldAndNew(t *testing.T) {
	got := DiffVariant(vals(25, "29.99", true), snap("p", "v", 0, "24.99", true))
	if len(got) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(got))
	}
	if got[0].Old != 25 || got[0].New != 0 || got[0].Field != models.FieldStock {
		t.Fatalf("unexpected stock change: %+v", got[0])
	}
	if price, ok := got[1].New.(decimal.Decimal); !ok || !price.Equal(dec("24.99")) {
		t.Fatalf("unexpected price change: %+v", got[1])
	}
}

func TestAutoApplicable(t *testing.T) {
	cases := map[models.ChangeType]bool{
		models.ChangeTypeStockUpdate:        true,
		models.ChangeTypeAvailabilityChange: true,
		models.ChangeTypePriceChange:        false,
		models.ChangeTypeNewVariant:         false,
	}
	for ct, want := range cases {
		if got := AutoApplicable(ct); got != want {
			t.Fatalf("AutoApplicable(%s) expected %v, got %v", ct, want, got)
		}
	}
}

func TestInventoryLedger_MarkProcessed(t *testing.T) {
	journal := &memJournal{}
	ledger := NewInventoryLedger(journal, quietLogger())
	ctx := context.Background()
	rec := ledger.RecordChange(ctx, "p1", "v1", models.ChangeTypePriceChange, "1.00", "2.00")
	other := ledger.RecordChange(ctx, "p1", "v2", models.ChangeTypeStockUpdate, 1, 2)

	if err := ledger.MarkProcessed(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	processed := true
	if n := len(ledger.List(ChangeFilter{Processed: &processed})); n != 0 {
		t.Fatalf("an unknown id must mutate nothing, got %d processed", n)
	}

	if err := ledger.MarkProcessed(ctx, rec.ID); err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
	got, _ := ledger.Get(rec.ID)
	if !got.Processed || got.ProcessedAt == nil {
		t.Fatalf("expected processed record, got %+v", got)
	}
	if err := ledger.MarkProcessed(ctx, rec.ID); err != nil {
		t.Fatalf("MarkProcessed must be idempotent, got %v", err)
	}

	list := ledger.List(ChangeFilter{ProductID: "p1"})
	if len(list) != 2 || list[0].ID != other.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if n := len(ledger.List(ChangeFilter{ChangeType: models.ChangeTypeStockUpdate})); n != 1 {
		t.Fatalf("expected 1 stock change, got %d", n)
	}
	if len(journal.changes) != 2 || !journal.changes[0].Processed {
		t.Fatalf("expected journal to hold the processed state, got %+v", journal.changes)
	}
}
