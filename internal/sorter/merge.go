package sorter

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// mergeSource is one spilled chunk and its current head line.
type mergeSource struct {
	file *os.File
	lr   *lineReader
	head string
}

func (s *mergeSource) advance() (bool, error) {
	l, ok := s.lr.line()
	if !ok {
		return false, s.lr.Err()
	}
	s.head = l
	return true, nil
}

// mergeQueue is a min-heap of sources ordered by head line.
type mergeQueue struct {
	sources []*mergeSource
	order   Order
}

func (q *mergeQueue) Len() int           { return len(q.sources) }
func (q *mergeQueue) Less(i, j int) bool { return q.order(q.sources[i].head, q.sources[j].head) < 0 }
func (q *mergeQueue) Swap(i, j int)      { q.sources[i], q.sources[j] = q.sources[j], q.sources[i] }
func (q *mergeQueue) Push(x any)         { q.sources = append(q.sources, x.(*mergeSource)) }

func (q *mergeQueue) Pop() any {
	old := q.sources
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	q.sources = old[:n-1]
	return s
}

// merge streams the lines of every chunk file to emit in global order.
// Only the head line of each chunk is held in memory, but every chunk file
// is open at once; reduce keeps that number bounded.
func merge(ctx context.Context, paths []string, order Order, emit func(string) error) error {
	q := &mergeQueue{order: order, sources: make([]*mergeSource, 0, len(paths))}
	var open []*os.File
	defer func() {
		for _, f := range open {
			_ = f.Close()
		}
	}()

	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open chunk file: %w", err)
		}
		open = append(open, f)

		src := &mergeSource{file: f, lr: newLineReader(f)}
		ok, err := src.advance()
		if err != nil {
			return fmt.Errorf("failed to read chunk %s: %w", p, err)
		}
		if ok {
			q.sources = append(q.sources, src)
		}
	}
	heap.Init(q)

	for n := 0; q.Len() > 0; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		src := q.sources[0]
		if err := emit(src.head); err != nil {
			return err
		}

		ok, err := src.advance()
		if err != nil {
			return fmt.Errorf("failed to read chunk %s: %w", src.file.Name(), err)
		}
		if ok {
			heap.Fix(q, 0)
		} else {
			heap.Pop(q)
		}
	}
	return nil
}

// DefaultMaxOpenChunks bounds the chunk files held open by one merge when
// Config.MaxOpenChunks is zero.
const DefaultMaxOpenChunks = 128

// reduce merges chunks in groups of at most fanIn into new chunk files in
// dir until no more than fanIn remain, so that no merge holds more than
// fanIn files open. Byte-identical lines are collapsed on the way. It
// returns the remaining chunks and the number of passes made.
func reduce(ctx context.Context, dir string, chunks []string, fanIn int, order Order) ([]string, int, error) {
	passes := 0
	for n := 0; len(chunks) > fanIn; passes++ {
		next := make([]string, 0, (len(chunks)+fanIn-1)/fanIn)
		for start := 0; start < len(chunks); start += fanIn {
			group := chunks[start:min(start+fanIn, len(chunks))]
			if len(group) == 1 {
				next = append(next, group[0])
				continue
			}

			path, err := writeChunk(filepath.Join(dir, fmt.Sprintf("merge-%06d", n)), func(write func(string) error) error {
				var prev string
				first := true
				return merge(ctx, group, order, func(l string) error {
					if !first && l == prev {
						return nil
					}
					first, prev = false, l
					return write(l)
				})
			})
			if err != nil {
				return nil, passes, err
			}
			n++
			for _, p := range group {
				_ = os.Remove(p)
			}
			next = append(next, path)
		}
		chunks = next
	}
	return chunks, passes, nil
}
