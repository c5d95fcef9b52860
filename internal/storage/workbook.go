// Package storage は xlsx ワークブックとローカルファイルへの永続化を提供します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

var (
	// ErrNotFound は指定したレコードが存在しないことを表します。
	ErrNotFound = errors.New("record not found")
	// ErrConflict は一意制約に違反する挿入を表します。
	ErrConflict = errors.New("record already exists")
	// ErrSchemaMismatch はワークブックの形がスキーマと一致しないことを表します。
	ErrSchemaMismatch = errors.New("workbook schema mismatch")
)

// Kind は列の型です。
type Kind int

const (
	KindString Kind = iota
	KindInt
)

// Column はシートの1列を表します。
type Column struct {
	Name     string
	Kind     Kind
	Optional bool
}

// Schema はシート名と列の並びを定義します。先頭列は整数の id でなければなりません。
type Schema struct {
	Sheet   string
	Columns []Column
}

// Header はヘッダー行の値を返します。
func (s Schema) Header() []string {
	header := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		header[i] = col.Name
	}
	return header
}

func (s Schema) validate() error {
	if strings.TrimSpace(s.Sheet) == "" {
		return errors.New("schema sheet name is required")
	}
	if len(s.Columns) == 0 || s.Columns[0].Name != "id" || s.Columns[0].Kind != KindInt {
		return errors.New("schema must start with an int id column")
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, col := range s.Columns {
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("schema column %q is duplicated", col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}

// Row はスキーマ検証済みの1行です。
type Row struct {
	schema *Schema
	cells  []string
}

// String は列の文字列値を返します。
func (r Row) String(name string) string {
	for i, col := range r.schema.Columns {
		if col.Name == name {
			return r.cells[i]
		}
	}
	return ""
}

// Int は列の整数値を返します。空のオプション列は 0 です。
func (r Row) Int(name string) int {
	v := r.String(name)
	if v == "" {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

// Codec はレコード型とシート行の相互変換を定義します。
type Codec[T any] interface {
	// Encode はスキーマの列順に値を返します。
	Encode(v T) []any
	Decode(r Row) (T, error)
	ID(v T) int
	WithID(v T, id int) T
}

// Table は1つのワークブックファイルに保存される型付きのテーブルです。
// 読み書きはすべて1つのロックで直列化され、保存は一時ファイルからの rename で置き換えます。
type Table[T any] struct {
	path   string
	schema Schema
	codec  Codec[T]
	mu     sync.Mutex
}

// NewTable はテーブルを開きます。ファイルが無ければヘッダーだけのワークブックを作成し、
// 既存ファイルのヘッダーがスキーマと異なる場合はエラーを返します。
func NewTable[T any](path string, schema Schema, codec Codec[T]) (*Table[T], error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, errors.New("codec is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	t := &Table[T]{path: path, schema: schema, codec: codec}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := t.save(nil); err != nil {
			return nil, err
		}
		return t, nil
	} else if err != nil {
		return nil, err
	}

	if _, err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// List は全レコードを保存順に返します。
func (t *Table[T]) List(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load()
}

// Get は id に一致するレコードを返します。
func (t *Table[T]) Get(ctx context.Context, id int) (T, error) {
	return t.Find(ctx, func(v T) bool { return t.codec.ID(v) == id })
}

// Find は条件に一致する最初のレコードを返します。
func (t *Table[T]) Find(ctx context.Context, match func(T) bool) (T, error) {
	var zero T
	records, err := t.List(ctx)
	if err != nil {
		return zero, err
	}
	for _, v := range records {
		if match(v) {
			return v, nil
		}
	}
	return zero, ErrNotFound
}

// Filter は条件に一致するレコードをすべて返します。
func (t *Table[T]) Filter(ctx context.Context, match func(T) bool) ([]T, error) {
	records, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, v := range records {
		if match(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Insert は既存の最大 id + 1 を割り当てて追加します。
func (t *Table[T]) Insert(ctx context.Context, v T) (T, error) {
	return t.InsertUnique(ctx, v, nil)
}

// InsertUnique は conflicts が真になる既存レコードが無い場合だけ追加します。
// 一意性の確認と id の割り当ては同じクリティカルセクション内で行われます。
func (t *Table[T]) InsertUnique(ctx context.Context, v T, conflicts func(existing T) bool) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.load()
	if err != nil {
		return zero, err
	}
	maxID := 0
	for _, existing := range records {
		if conflicts != nil && conflicts(existing) {
			return zero, ErrConflict
		}
		if id := t.codec.ID(existing); id > maxID {
			maxID = id
		}
	}

	v = t.codec.WithID(v, maxID+1)
	if err := t.save(append(records, v)); err != nil {
		return zero, err
	}
	return v, nil
}

// Update は id のレコードを mutate の結果で置き換えます。id は変更できません。
func (t *Table[T]) Update(ctx context.Context, id int, mutate func(T) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.load()
	if err != nil {
		return zero, err
	}
	for i, existing := range records {
		if t.codec.ID(existing) != id {
			continue
		}
		updated, err := mutate(existing)
		if err != nil {
			return zero, err
		}
		updated = t.codec.WithID(updated, id)
		records[i] = updated
		if err := t.save(records); err != nil {
			return zero, err
		}
		return updated, nil
	}
	return zero, ErrNotFound
}

// Delete は id のレコードを削除します。
func (t *Table[T]) Delete(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.load()
	if err != nil {
		return err
	}
	for i, existing := range records {
		if t.codec.ID(existing) == id {
			return t.save(append(records[:i], records[i+1:]...))
		}
	}
	return ErrNotFound
}

// WriteSheet は現在のレコードを別のワークブックにシートとして書き出します。
func (t *Table[T]) WriteSheet(ctx context.Context, f *excelize.File) error {
	records, err := t.List(ctx)
	if err != nil {
		return err
	}
	if idx, err := f.GetSheetIndex(t.schema.Sheet); err != nil {
		return err
	} else if idx == -1 {
		if _, err := f.NewSheet(t.schema.Sheet); err != nil {
			return err
		}
	}
	return t.writeRows(f, records)
}

func (t *Table[T]) load() ([]T, error) {
	f, err := excelize.OpenFile(t.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", filepath.Base(t.path), err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(t.schema.Sheet)
	if err != nil {
		return nil, err
	}
	if idx == -1 {
		return nil, fmt.Errorf("%w: sheet %q not found in %s", ErrSchemaMismatch, t.schema.Sheet, filepath.Base(t.path))
	}

	rows, err := f.GetRows(t.schema.Sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", t.schema.Sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q has no header", ErrSchemaMismatch, t.schema.Sheet)
	}
	if err := t.checkHeader(rows[0]); err != nil {
		return nil, err
	}

	records := make([]T, 0, len(rows)-1)
	for i, raw := range rows[1:] {
		if isBlank(raw) {
			continue
		}
		row, err := t.checkRow(raw, i+2)
		if err != nil {
			return nil, err
		}
		v, err := t.codec.Decode(row)
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: %v", ErrSchemaMismatch, t.schema.Sheet, i+2, err)
		}
		records = append(records, v)
	}
	return records, nil
}

func (t *Table[T]) checkHeader(header []string) error {
	want := t.schema.Header()
	if len(header) != len(want) {
		return fmt.Errorf("%w: %s header has %d columns, want %d", ErrSchemaMismatch, t.schema.Sheet, len(header), len(want))
	}
	for i, name := range want {
		if strings.TrimSpace(header[i]) != name {
			return fmt.Errorf("%w: %s column %d is %q, want %q", ErrSchemaMismatch, t.schema.Sheet, i+1, header[i], name)
		}
	}
	return nil
}

func (t *Table[T]) checkRow(raw []string, line int) (Row, error) {
	cols := t.schema.Columns
	if len(raw) > len(cols) {
		return Row{}, fmt.Errorf("%w: %s row %d has %d cells, want at most %d", ErrSchemaMismatch, t.schema.Sheet, line, len(raw), len(cols))
	}
	cells := make([]string, len(cols))
	for i, col := range cols {
		if i < len(raw) {
			cells[i] = strings.TrimSpace(raw[i])
		}
		if cells[i] == "" {
			if !col.Optional {
				return Row{}, fmt.Errorf("%w: %s row %d column %s is empty", ErrSchemaMismatch, t.schema.Sheet, line, col.Name)
			}
			continue
		}
		if col.Kind == KindInt {
			if _, err := strconv.Atoi(cells[i]); err != nil {
				return Row{}, fmt.Errorf("%w: %s row %d column %s is not an integer: %q", ErrSchemaMismatch, t.schema.Sheet, line, col.Name, cells[i])
			}
		}
	}
	return Row{schema: &t.schema, cells: cells}, nil
}

func (t *Table[T]) save(records []T) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(defaultSheet, t.schema.Sheet); err != nil {
		return err
	}
	if err := t.writeRows(f, records); err != nil {
		return err
	}

	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(t.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp workbook: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		return fmt.Errorf("replace workbook: %w", err)
	}
	return nil
}

func (t *Table[T]) writeRows(f *excelize.File, records []T) error {
	header := make([]any, len(t.schema.Columns))
	for i, name := range t.schema.Header() {
		header[i] = name
	}
	if err := f.SetSheetRow(t.schema.Sheet, "A1", &header); err != nil {
		return err
	}
	for i, v := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := t.codec.Encode(v)
		if len(values) != len(t.schema.Columns) {
			return fmt.Errorf("codec returned %d values for %d columns", len(values), len(t.schema.Columns))
		}
		if err := f.SetSheetRow(t.schema.Sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

func isBlank(raw []string) bool {
	for _, cell := range raw {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
