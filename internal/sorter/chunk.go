package sorter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// lineReader yields the lines of r one at a time, without their line
// terminator, and can look one line ahead.
type lineReader struct {
	r       *bufio.Reader
	next    string
	hasNext bool
	err     error
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// peek reports whether another line is available.
func (lr *lineReader) peek() bool {
	if lr.hasNext {
		return true
	}
	if lr.err != nil {
		return false
	}

	line, err := lr.r.ReadString('\n')
	if err != nil {
		lr.err = err
		if line == "" {
			return false
		}
	}
	lr.next = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	lr.hasNext = true
	return true
}

func (lr *lineReader) line() (string, bool) {
	if !lr.peek() {
		return "", false
	}
	lr.hasNext = false
	return lr.next, true
}

// Err returns the first read error other than io.EOF.
func (lr *lineReader) Err() error {
	if errors.Is(lr.err, io.EOF) {
		return nil
	}
	return lr.err
}

// isBody reports whether line belongs in the sorted body.
func isBody(line string) bool {
	return line != "" && !strings.HasPrefix(line, "#")
}

// readChunk reads up to limit lines and returns the body lines among them,
// the number of lines consumed, and whether more input follows.
func readChunk(lr *lineReader, limit int) (lines []string, read int, more bool) {
	lines = make([]string, 0, min(limit, 4096))
	for read < limit {
		l, ok := lr.line()
		if !ok {
			return lines, read, false
		}
		read++
		if isBody(l) {
			lines = append(lines, l)
		}
	}
	return lines, read, lr.peek()
}

// sortChunk sorts lines in place by o and drops identical neighbours.
func sortChunk(lines []string, o Order) []string {
	slices.SortStableFunc(lines, o)
	return slices.Compact(lines)
}

// spill writes lines to a new numbered file in dir.
func spill(dir string, n int, lines []string) (string, error) {
	return writeChunk(filepath.Join(dir, fmt.Sprintf("chunk-%06d", n)), func(write func(string) error) error {
		for _, l := range lines {
			if err := write(l); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeChunk creates path and writes every line fill produces to it.
func writeChunk(path string, fill func(write func(string) error) error) (_ string, err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create chunk file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close chunk file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	err = fill(func(l string) error {
		if _, err := w.WriteString(l); err != nil {
			return fmt.Errorf("failed to write chunk file: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write chunk file: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to write chunk file: %w", err)
	}
	return path, nil
}
