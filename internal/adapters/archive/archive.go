package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// List возвращает архивы с расширением ext под корнем root в лексическом порядке.
// Отсутствующий корень — ошибка конфигурации.
func List(root, ext string) ([]string, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("archive root %s: %w", root, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("archive root %s is not a directory", root)
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ext) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// InstanceFromFile возвращает инстанс, с которого снят архив: префикс имени до первого "_".
func InstanceFromFile(path string) string {
	name := filepath.Base(path)
	if i := strings.Index(name, "_"); i > 0 {
		return strings.ToLower(name[:i])
	}
	return ""
}

// Reader читает архив построчно. Сжатые файлы (.gz) распаковываются на лету,
// включая архивы из нескольких gzip-членов.
type Reader struct {
	f  *os.File
	gz *gzip.Reader
	br *bufio.Reader
}

// Open открывает архив.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{f: f}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(bufio.NewReaderSize(f, 1<<16))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		r.gz = gz
		r.br = bufio.NewReaderSize(gz, 1<<20)
	} else {
		r.br = bufio.NewReaderSize(f, 1<<20)
	}
	return r, nil
}

// Next возвращает следующую строку без перевода строки. Длина строки не ограничена.
// В конце архива возвращает io.EOF.
func (r *Reader) Next() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if len(line) > 0 {
		return bytes.TrimRight(line, "\r\n"), nil
	}
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	return nil, err
}

// Close закрывает архив.
func (r *Reader) Close() error {
	if r.gz != nil {
		_ = r.gz.Close()
	}
	return r.f.Close()
}
