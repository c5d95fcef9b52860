package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"
)

type item struct {
	ID    int
	Name  string
	Count int
	Note  string
}

type itemCodec struct{}

func (itemCodec) Encode(v item) []any { return []any{v.ID, v.Name, v.Count, v.Note} }

func (itemCodec) Decode(r Row) (item, error) {
	return item{ID: r.Int("id"), Name: r.String("name"), Count: r.Int("count"), Note: r.String("note")}, nil
}

func (itemCodec) ID(v item) int { return v.ID }

func (itemCodec) WithID(v item, id int) item {
	v.ID = id
	return v
}

var itemSchema = Schema{
	Sheet: "Items",
	Columns: []Column{
		{Name: "id", Kind: KindInt},
		{Name: "name", Kind: KindString},
		{Name: "count", Kind: KindInt},
		{Name: "note", Kind: KindString, Optional: true},
	},
}

func newItemTable(t *testing.T) *Table[item] {
	t.Helper()
	table, err := NewTable[item](filepath.Join(t.TempDir(), "items.xlsx"), itemSchema, itemCodec{})
	if err != nil {
		t.Fatalf("NewTable() error: %v", err)
	}
	return table
}

func TestTableInsertAssignsIncreasingIDs(t *testing.T) {
	table := newItemTable(t)
	ctx := context.Background()

	first, err := table.Insert(ctx, item{Name: "a", Count: 1})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	second, err := table.Insert(ctx, item{Name: "b", Count: 2, Note: "memo"})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("unexpected ids: %d, %d", first.ID, second.ID)
	}

	if err := table.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	third, err := table.Insert(ctx, item{Name: "c", Count: 3})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if third.ID != 3 {
		t.Fatalf("expected max+1 id 3, got %d", third.ID)
	}

	got, err := table.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Note != "memo" || got.Count != 2 {
		t.Fatalf("unexpected record: %#v", got)
	}
}

func TestTablePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.xlsx")
	table, err := NewTable[item](path, itemSchema, itemCodec{})
	if err != nil {
		t.Fatalf("NewTable() error: %v", err)
	}
	if _, err := table.Insert(context.Background(), item{Name: "kept", Count: 7}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	reopened, err := NewTable[item](path, itemSchema, itemCodec{})
	if err != nil {
		t.Fatalf("NewTable() reopen error: %v", err)
	}
	records, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 1 || records[0].Name != "kept" || records[0].Count != 7 {
		t.Fatalf("unexpected records: %#v", records)
	}
}

func TestTableUpdateAndNotFound(t *testing.T) {
	table := newItemTable(t)
	ctx := context.Background()
	created, _ := table.Insert(ctx, item{Name: "a", Count: 1})

	updated, err := table.Update(ctx, created.ID, func(v item) (item, error) {
		v.Count = 10
		v.ID = 99
		return v, nil
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.ID != created.ID || updated.Count != 10 {
		t.Fatalf("unexpected update result: %#v", updated)
	}

	if _, err := table.Update(ctx, 42, func(v item) (item, error) { return v, nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := table.Delete(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTableInsertUniqueIsAtomic(t *testing.T) {
	table := newItemTable(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicted := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := table.InsertUnique(ctx, item{Name: "same", Count: 1}, func(existing item) bool {
				return existing.Name == "same"
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrConflict):
				conflicted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicted != 7 {
		t.Fatalf("succeeded=%d conflicted=%d", succeeded, conflicted)
	}
	records, _ := table.List(ctx)
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
}

func TestTableRejectsMismatchedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.xlsx")
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "Items"); err != nil {
		t.Fatalf("SetSheetName() error: %v", err)
	}
	header := []any{"id", "title", "count", "note"}
	if err := f.SetSheetRow("Items", "A1", &header); err != nil {
		t.Fatalf("SetSheetRow() error: %v", err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error: %v", err)
	}
	_ = f.Close()

	if _, err := NewTable[item](path, itemSchema, itemCodec{}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestTableRejectsNonIntegerCell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.xlsx")
	f := excelize.NewFile()
	_ = f.SetSheetName("Sheet1", "Items")
	header := []any{"id", "name", "count", "note"}
	row := []any{1, "a", "many", ""}
	_ = f.SetSheetRow("Items", "A1", &header)
	_ = f.SetSheetRow("Items", "A2", &row)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error: %v", err)
	}
	_ = f.Close()

	if _, err := NewTable[item](path, itemSchema, itemCodec{}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestTableWriteSheet(t *testing.T) {
	table := newItemTable(t)
	ctx := context.Background()
	_, _ = table.Insert(ctx, item{Name: "a", Count: 1})

	f := excelize.NewFile()
	defer f.Close()
	if err := table.WriteSheet(ctx, f); err != nil {
		t.Fatalf("WriteSheet() error: %v", err)
	}
	rows, err := f.GetRows("Items")
	if err != nil {
		t.Fatalf("GetRows() error: %v", err)
	}
	if len(rows) != 2 || rows[1][1] != "a" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}
