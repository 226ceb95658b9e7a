package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// AuthorWriter дописывает исходные строки постов в отдельный gz-файл на каждого автора.
// Каждая запись — отдельный gzip-член, поэтому файл можно дописывать между запусками.
type AuthorWriter struct {
	dir string
}

// NewAuthorWriter создаёт писатель в каталоге dir.
func NewAuthorWriter(dir string) (*AuthorWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("authors dir: %w", err)
	}
	return &AuthorWriter{dir: dir}, nil
}

// FileName возвращает имя файла автора.
func FileName(instance, username string) string {
	clean := func(s string) string {
		return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	}
	return fmt.Sprintf("mbfc_posts_%s@%s.json.gz", clean(instance), clean(username))
}

// Append дописывает строку raw в файл автора.
func (w *AuthorWriter) Append(instance, username string, raw []byte) error {
	path := filepath.Join(w.dir, FileName(instance, username))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(append(append([]byte(nil), raw...), '\n')); err != nil {
		_ = gz.Close()
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}
