package roster

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// ExportFilename はエクスポートしたワークブックのファイル名です。
const ExportFilename = "roster.xlsx"

// ProgressFunc はエクスポートの進捗 (0-100) を受け取ります。
type ProgressFunc func(stage string, percent int)

type sheetWriter interface {
	WriteSheet(ctx context.Context, f *excelize.File) error
}

// ExportWorkbook は4つのテーブルを1つのワークブックにまとめて w に書き出します。
func (s *Service) ExportWorkbook(ctx context.Context, w io.Writer) error {
	return s.export(ctx, w, nil)
}

// ExportToFile は path にワークブックを書き出します。書き込みは一時ファイル経由で行います。
func (s *Service) ExportToFile(ctx context.Context, path string, progress ProgressFunc) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp export: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := s.export(ctx, tmp, progress); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	stat, err := os.Stat(tmpPath)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("store export: %w", err)
	}
	return stat.Size(), nil
}

func (s *Service) export(ctx context.Context, w io.Writer, progress ProgressFunc) error {
	report := func(stage string, percent int) {
		if progress != nil {
			progress(stage, percent)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	tables := []struct {
		stage string
		table sheetWriter
	}{
		{"players", s.players},
		{"clubs", s.clubs},
		{"contracts", s.contracts},
		{"matches", s.matches},
	}
	report("load", 20)
	for i, t := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.table.WriteSheet(ctx, f); err != nil {
			return fmt.Errorf("export %s: %w", t.stage, err)
		}
		report(t.stage, 20+60*(i+1)/len(tables))
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	idx, err := f.GetSheetIndex(playersSchema.Sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	report("write", 80)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	report("write", 100)
	return nil
}
