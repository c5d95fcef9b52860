// Package pdf は契約書 PDF の検証とメタデータ取得を提供します。
package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Error はクライアントへ返せるコード付きのエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Info は検証済み PDF の基本メタデータです。
type Info struct {
	Pages int   `json:"pages"`
	Size  int64 `json:"size"`
}

// Inspect は path の PDF を検証し、ページ数を返します。maxPages が正の場合はページ数の上限を確認します。
func Inspect(ctx context.Context, path string, maxPages int) (*Info, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newError("INVALID_INPUT", "PDF file not found", err)
		}
		return nil, err
	}

	if err := pdfapi.ValidateFile(path, nil); err != nil {
		return nil, newError("INVALID_PDF", "file is not a valid PDF", err)
	}

	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return nil, newError("INVALID_PDF", "failed to read page count", err)
	}
	if pages <= 0 {
		return nil, newError("INVALID_PDF", "PDF has no pages", nil)
	}
	if maxPages > 0 && pages > maxPages {
		return nil, newError("LIMIT_EXCEEDED", fmt.Sprintf("PDF has %d pages, limit is %d", pages, maxPages), nil)
	}

	return &Info{Pages: pages, Size: stat.Size()}, nil
}
