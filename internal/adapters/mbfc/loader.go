package mbfc

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load читает CSV-выгрузку списка MBFC и возвращает сырые ячейки колонки column.
// Ячейка может содержать несколько адресов через запятую; их нормализует матчер.
func Load(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open domain list: %w", err)
	}
	defer f.Close()
	return Read(f, column)
}

// Read разбирает CSV из r.
func Read(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := columnIndex(header, column)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found in %v", column, header)
	}

	var cells []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return cells, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
			cells = append(cells, row[idx])
		}
	}
}

func columnIndex(header []string, column string) int {
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")) == column {
			return i
		}
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")), column) {
			return i
		}
	}
	return -1
}
