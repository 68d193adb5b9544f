package sorter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned by New for an unusable configuration.
var ErrInvalidConfig = errors.New("invalid sorter configuration")

// Config controls a Sorter.
type Config struct {
	// MaxLines is the most lines held in memory at once.
	MaxLines int `validate:"gt=0"`
	// Order defaults to Bytewise.
	Order Order
	// Header defaults to a Banner with no text, i.e. only a date line.
	Header Header
	// TempDir is where per-call chunk directories are created; empty
	// means the system temporary directory.
	TempDir string
	// MaxOpenChunks caps the chunk files merged at once; more chunks are
	// merged in passes. Zero means DefaultMaxOpenChunks.
	MaxOpenChunks int `validate:"omitempty,gte=2"`
}

// Result describes one completed sort.
type Result struct {
	Path string
	// InputLines counts every line read, including comments and blanks.
	InputLines int
	// Chunks is the number of chunk files spilled to disk.
	Chunks int
	// Lines is the number of distinct body lines written.
	Lines int
	// MergePasses counts intermediate merges needed to stay within
	// MaxOpenChunks; zero when every chunk fit in the final merge.
	MergePasses int
}

// Option customizes a Sorter.
type Option func(*Sorter)

// WithClock replaces the clock used for the header date line.
func WithClock(now func() time.Time) Option {
	return func(s *Sorter) {
		s.now = now
	}
}

// Sorter sorts files in place. It holds no per-call state, so one Sorter
// may sort different files concurrently.
type Sorter struct {
	maxLines int
	order    Order
	header   Header
	tempDir  string
	fanIn    int
	logger   *slog.Logger
	now      func() time.Time
}

// New validates cfg and returns a Sorter.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Sorter, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	order := cfg.Order
	if order == nil {
		order = Bytewise
	}
	header := cfg.Header
	if header == nil {
		header = NewBanner()
	}
	fanIn := cfg.MaxOpenChunks
	if fanIn == 0 {
		fanIn = DefaultMaxOpenChunks
	}

	s := &Sorter{
		maxLines: cfg.MaxLines,
		order:    total(order),
		header:   header,
		tempDir:  cfg.TempDir,
		fanIn:    fanIn,
		logger:   logger.With("component", "sorter"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sort rewrites the file at path as header, blank line, distinct body lines
// in order, and a trailing blank line. The file is replaced by a rename, so
// on any error it keeps its previous content.
//
// Lines the configured Order considers equal are written in byte order, not
// in the order they were read: with Casefold, "b", "B", "a" becomes "a", "B",
// "b". Only byte-identical lines are deduplicated.
func (s *Sorter) Sort(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	res := Result{Path: path}
	log := s.logger.With("path", path)

	work, err := os.MkdirTemp(s.tempDir, "sift-sort-*")
	if err != nil {
		return res, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			log.Warn("failed to remove working directory", "dir", work, "error", err)
		}
	}()

	chunks, err := s.split(ctx, path, work, &res)
	if err != nil {
		return res, err
	}
	res.Chunks = len(chunks)

	chunks, res.MergePasses, err = reduce(ctx, work, chunks, s.fanIn, s.order)
	if err != nil {
		return res, fmt.Errorf("failed to merge chunks: %w", err)
	}

	if err := s.write(ctx, path, chunks, &res); err != nil {
		return res, err
	}

	log.Info("file sorted",
		"input_lines", res.InputLines,
		"chunks", res.Chunks,
		"merge_passes", res.MergePasses,
		"lines", res.Lines,
		"duration", time.Since(start))
	return res, nil
}

// split reads path in chunks of at most maxLines lines and spills each
// sorted chunk into dir.
func (s *Sorter) split(ctx context.Context, path, dir string, res *Result) ([]string, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	lr := newLineReader(in)
	var chunks []string
	for more := true; more; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var lines []string
		var read int
		lines, read, more = readChunk(lr, s.maxLines)
		res.InputLines += read
		if err := lr.Err(); err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		if len(lines) == 0 {
			continue
		}

		lines = sortChunk(lines, s.order)
		chunk, err := spill(dir, len(chunks), lines)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
		s.logger.Debug("chunk spilled", "path", path, "chunk", len(chunks), "lines", len(lines))
	}
	return chunks, nil
}

// write merges chunks into a temporary file beside path and renames it
// over path.
func (s *Sorter) write(ctx context.Context, path string, chunks []string, res *Result) (err error) {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	out, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".sift-*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tmp := out.Name()
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	w := bufio.NewWriterSize(out, 64*1024)
	writeLine := func(l string) error {
		if _, err := w.WriteString(l); err != nil {
			return err
		}
		return w.WriteByte('\n')
	}

	for _, l := range s.header.Lines(s.now()) {
		if err := writeLine(l); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := writeLine(""); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var prev string
	first := true
	err = merge(ctx, chunks, s.order, func(l string) error {
		if !isBody(l) || (!first && l == prev) {
			return nil
		}
		first = false
		prev = l
		res.Lines++
		return writeLine(l)
	})
	if err != nil {
		return fmt.Errorf("failed to merge chunks: %w", err)
	}

	if err := writeLine(""); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := out.Chmod(mode); err != nil {
		return fmt.Errorf("failed to set output mode: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync output: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
