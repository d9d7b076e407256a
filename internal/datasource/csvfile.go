package datasource

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/salesqa/salesqa/internal/schema"
)

const byteOrderMark = "\xEF\xBB\xBF"

// cleanReader strips a leading UTF-8 byte order mark and replaces invalid
// UTF-8 bytes with '?'. It holds at most one rune beyond the caller's buffer.
type cleanReader struct {
	r       *bufio.Reader
	started bool
}

func newCleanReader(r io.Reader) *cleanReader {
	return &cleanReader{r: bufio.NewReader(r)}
}

func (c *cleanReader) Read(p []byte) (int, error) {
	if !c.started {
		c.started = true
		if head, err := c.r.Peek(len(byteOrderMark)); err == nil && string(head) == byteOrderMark {
			c.r.Discard(len(byteOrderMark))
		}
	}

	n := 0
	for n+utf8.UTFMax <= len(p) {
		r, size, err := c.r.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if r == utf8.RuneError && size == 1 {
			p[n] = '?'
			n++
			continue
		}
		n += utf8.EncodeRune(p[n:], r)
	}
	if n == 0 && len(p) > 0 {
		// Buffer smaller than one rune; fall back to a single byte.
		b, err := c.r.ReadByte()
		if err != nil {
			return 0, err
		}
		p[0] = b
		return 1, nil
	}
	return n, nil
}

// csvRows streams a CSV file as rows aligned to a table's fields.
type csvRows struct {
	file   *os.File
	reader *csv.Reader
	fields []schema.FieldSpec
	index  []int // CSV column for each field, -1 when absent
	line   int
}

// openCSV opens path and maps its header onto tbl's fields.
// Header names match case-insensitively; spaces are treated as underscores.
func openCSV(path string, tbl schema.Table) (*csvRows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	r := csv.NewReader(newCleanReader(f))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv %s is empty", path)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		positions[headerKey(h)] = i
	}

	index := make([]int, len(tbl.Fields))
	var missing []string
	for i, field := range tbl.Fields {
		pos, ok := positions[headerKey(field.Name)]
		if !ok {
			index[i] = -1
			if field.Required {
				missing = append(missing, field.Name)
			}
			continue
		}
		index[i] = pos
	}
	if len(missing) > 0 {
		f.Close()
		return nil, fmt.Errorf("csv %s missing required columns: %s", path, strings.Join(missing, ", "))
	}

	return &csvRows{file: f, reader: r, fields: tbl.Fields, index: index, line: 1}, nil
}

func headerKey(h string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", "_"))
}

// next returns the raw cells of the next row in field order.
// Returns io.EOF when the file is exhausted.
func (c *csvRows) next() ([]string, error) {
	record, err := c.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("csv line %d: %w", c.line+1, err)
	}
	c.line++

	cells := make([]string, len(c.fields))
	for i, pos := range c.index {
		if pos >= 0 && pos < len(record) {
			cells[i] = record[pos]
		}
	}
	return cells, nil
}

func (c *csvRows) Close() error {
	return c.file.Close()
}
