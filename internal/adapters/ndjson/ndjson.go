package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Writer дописывает записи в файл этапа, по одной JSON-строке на запись.
// Для файлов с расширением .gz каждая сессия записи — отдельный gzip-член.
type Writer struct {
	mu     sync.Mutex
	path   string
	target string
	f      *os.File
	gz     *gzip.Writer
	w      *bufio.Writer
}

// Create открывает файл на дозапись, создавая каталоги.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ndjson dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := &Writer{path: path, f: f}
	if strings.HasSuffix(path, ".gz") {
		w.gz = gzip.NewWriter(f)
		w.w = bufio.NewWriter(w.gz)
	} else {
		w.w = bufio.NewWriter(f)
	}
	return w, nil
}

// Rewrite пишет во временный файл рядом с path; Commit заменяет им path целиком.
// Повторный запуск этапа не дублирует записи.
func Rewrite(path string) (*Writer, error) {
	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove %s: %w", tmp, err)
	}
	w, err := Create(tmp)
	if err != nil {
		return nil, err
	}
	w.target = path
	return w, nil
}

// Commit закрывает файл и, для Rewrite, атомарно переименовывает его в целевой путь.
func (w *Writer) Commit() error {
	if err := w.Close(); err != nil {
		return err
	}
	if w.target == "" {
		return nil
	}
	if err := os.Rename(w.path, w.target); err != nil {
		return fmt.Errorf("rename %s: %w", w.path, err)
	}
	return nil
}

// Path возвращает путь файла.
func (w *Writer) Path() string { return w.path }

// Write сериализует запись и дописывает строку.
func (w *Writer) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return w.w.WriteByte('\n')
}

// Flush сбрасывает буфер на диск.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	if w.gz != nil {
		return w.gz.Flush()
	}
	return nil
}

// Close сбрасывает буфер и закрывает файл.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.w.Flush()
	if w.gz != nil {
		err = errors.Join(err, w.gz.Close())
	}
	return errors.Join(err, w.f.Close())
}

// LineError описывает строку, которую не удалось разобрать.
type LineError struct {
	Path string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Each читает файл и вызывает fn для каждой записи. Пустые строки пропускаются.
// Некорректные строки передаются в onBad и не прерывают чтение; ошибка fn прерывает.
func Each[T any](path string, fn func(T) error, onBad func(*LineError)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	r := bufio.NewReaderSize(src, 1<<20)
	for lineNo := 1; ; lineNo++ {
		line, readErr := r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var rec T
			if err := json.Unmarshal(line, &rec); err != nil {
				if onBad != nil {
					onBad(&LineError{Path: path, Line: lineNo, Err: err})
				}
			} else if err := fn(rec); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
	}
}
