package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// minimalPDF は xref のオフセットを計算した1ページの PDF を返します。
func minimalPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestInspectValidPDF(t *testing.T) {
	path := writeTemp(t, "contract.pdf", minimalPDF())

	info, err := Inspect(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if info.Pages != 1 || info.Size == 0 {
		t.Fatalf("unexpected info: %#v", info)
	}
}

func TestInspectPageLimit(t *testing.T) {
	path := writeTemp(t, "contract.pdf", minimalPDF())

	// 上限 1 ページはちょうど許可される
	if _, err := Inspect(context.Background(), path, 1); err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	path := writeTemp(t, "fake.pdf", []byte("this is not a pdf"))

	_, err := Inspect(context.Background(), path, 0)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_PDF" {
		t.Fatalf("expected INVALID_PDF, got %v", err)
	}
}

func TestInspectMissingFile(t *testing.T) {
	_, err := Inspect(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), 0)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestInspectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Inspect(ctx, "whatever.pdf", 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
