package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrTooLarge はアップロードがサイズ上限を超えたことを表します。
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrUnsupportedType は許可されていない MIME タイプを表します。
	ErrUnsupportedType = errors.New("unsupported file type")
)

var (
	kindPattern   = regexp.MustCompile(`^[a-z0-9-]+$`)
	unsafeNameChr = regexp.MustCompile(`[^a-zA-Z0-9.\-]`)
)

// StoredFile は保存済みアップロードの情報です。
type StoredFile struct {
	Path string `json:"-"`
	URL  string `json:"url"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
}

// Local はアップロードをローカルディスクに保存します。
// 保存先は <root>/<kind>/<unixmillis>-<sanitized name> で、公開 URL は <prefix>/<kind>/<file> です。
type Local struct {
	root    string
	prefix  string
	maxSize int64
	now     func() time.Time
}

// NewLocal はルートディレクトリを作成して Local を返します。
func NewLocal(root, publicPrefix string, maxSize int64) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("upload root is required")
	}
	if maxSize <= 0 {
		return nil, errors.New("max upload size must be positive")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &Local{
		root:    root,
		prefix:  "/" + strings.Trim(publicPrefix, "/"),
		maxSize: maxSize,
		now:     time.Now,
	}, nil
}

// Root はアップロードのルートディレクトリを返します。
func (l *Local) Root() string {
	return l.root
}

// SaveMultipart はフォームのファイルを保存します。
func (l *Local) SaveMultipart(ctx context.Context, kind string, fh *multipart.FileHeader, allowed ...string) (*StoredFile, error) {
	if fh == nil {
		return nil, errors.New("file header is nil")
	}
	if fh.Size > l.maxSize {
		return nil, ErrTooLarge
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	return l.Save(ctx, kind, fh.Filename, src, allowed...)
}

// Save は内容を検査してから保存します。allowed が空の場合は MIME タイプを制限しません。
func (l *Local) Save(ctx context.Context, kind, name string, r io.Reader, allowed ...string) (*StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kindPattern.MatchString(kind) {
		return nil, fmt.Errorf("invalid upload kind %q", kind)
	}
	dir := filepath.Join(l.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, io.LimitReader(r, l.maxSize+1))
	closeErr := tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if closeErr != nil {
		return nil, closeErr
	}
	if written > l.maxSize {
		return nil, ErrTooLarge
	}

	mt, err := mimetype.DetectFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("detect mime type: %w", err)
	}
	if len(allowed) > 0 && !matchesAny(mt, allowed) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}

	filename := fmt.Sprintf("%d-%s", l.now().UnixMilli(), sanitizeName(name, mt.Extension()))
	finalPath := filepath.Join(dir, filename)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	keep = true

	return &StoredFile{
		Path: finalPath,
		URL:  path.Join(l.prefix, kind, filename),
		MIME: mt.String(),
		Size: written,
	}, nil
}

// Resolve は公開 URL をディスク上のパスに変換します。ルート外を指す URL は拒否します。
func (l *Local) Resolve(url string) (string, error) {
	cleaned := path.Clean(url)
	if !strings.HasPrefix(cleaned, l.prefix+"/") {
		return "", fmt.Errorf("url %q is outside of %s", url, l.prefix)
	}
	rel := strings.TrimPrefix(cleaned, l.prefix+"/")
	return filepath.Join(l.root, filepath.FromSlash(rel)), nil
}

// Delete は公開 URL が指すファイルを削除します。存在しないファイルは無視します。
func (l *Local) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.Resolve(url)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func matchesAny(mt *mimetype.MIME, allowed []string) bool {
	for _, a := range allowed {
		if mt.Is(a) {
			return true
		}
	}
	return false
}

func sanitizeName(name, ext string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	base = unsafeNameChr.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "file" + ext
	}
	return base
}
