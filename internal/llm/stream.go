package llm

import (
	"context"
	"io"
	"sync"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

// chunkStream adapts a producer goroutine to the pull-based Stream
// interface. The producer writes chunks to the channel and returns; its
// error (if any) is surfaced from Recv after the channel drains.
type chunkStream struct {
	chunks <-chan chat.Chunk
	errc   <-chan error

	cancel    context.CancelFunc
	closeOnce sync.Once
	err       error
	done      bool
}

// newChunkStream runs produce in a goroutine and returns a Stream over its
// output. The producer must return once the channel no longer needs
// feeding; context cancellation propagates through Close.
func newChunkStream(ctx context.Context, produce func(ctx context.Context, out chan<- chat.Chunk) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	chunks := make(chan chat.Chunk, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		errc <- produce(ctx, chunks)
	}()

	return &chunkStream{chunks: chunks, errc: errc, cancel: cancel}
}

func (s *chunkStream) Recv() (chat.Chunk, error) {
	if s.done {
		if s.err != nil {
			return chat.Chunk{}, s.err
		}
		return chat.Chunk{}, io.EOF
	}
	ch, ok := <-s.chunks
	if ok {
		return ch, nil
	}
	s.done = true
	s.err = <-s.errc
	if s.err != nil {
		return chat.Chunk{}, s.err
	}
	return chat.Chunk{}, io.EOF
}

func (s *chunkStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// singleChunkStream surfaces a single final response as a stream, for
// providers without streaming support.
type singleChunkStream struct {
	chunk *chat.Chunk
}

// NewSingleChunkStream wraps one terminal chunk in the Stream contract.
func NewSingleChunkStream(ch chat.Chunk) Stream {
	ch.Done = true
	return &singleChunkStream{chunk: &ch}
}

func (s *singleChunkStream) Recv() (chat.Chunk, error) {
	if s.chunk == nil {
		return chat.Chunk{}, io.EOF
	}
	ch := *s.chunk
	s.chunk = nil
	return ch, nil
}

func (s *singleChunkStream) Close() error { return nil }
