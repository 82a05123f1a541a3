package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/usda-ndb-client/pkg/apierr"
	"github.com/rs/zerolog/log"
)

// BatchConfig holds batch fetcher configuration
type BatchConfig struct {
	// MaxConcurrency is the maximum number of chunks fetched in parallel.
	// api.data.gov allows 1000 req/h per key, so keep this small.
	MaxConcurrency int
	// Timeout per chunk fetch
	Timeout time.Duration
}

// DefaultBatchConfig returns safe default configuration for NDB
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

// ChunkFunc fetches the values for one chunk of keys.
type ChunkFunc[T any] func(ctx context.Context, chunk []string) ([]T, error)

type chunkResult[T any] struct {
	index  int
	values []T
	err    error
}

// BatchFetcher fans a key list out over a worker pool in fixed-size chunks,
// for endpoints that accept a bounded number of keys per request.
type BatchFetcher[T any] struct {
	fetch  ChunkFunc[T]
	config BatchConfig
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher[T any](fetch ChunkFunc[T], config BatchConfig) *BatchFetcher[T] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &BatchFetcher[T]{
		fetch:  fetch,
		config: config,
	}
}

// FetchAll splits keys into chunks of at most chunkSize and fetches them in
// parallel. Results are concatenated in input order. The first failing chunk
// cancels the rest and its error is returned.
func (bf *BatchFetcher[T]) FetchAll(ctx context.Context, keys []string, chunkSize int) ([]T, error) {
	if chunkSize <= 0 {
		return nil, apierr.Usagef("chunk size", "must be positive, got %d", chunkSize)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	start := time.Now()
	chunks := splitChunks(keys, chunkSize)

	log.Debug().
		Int("keys", len(keys)).
		Int("chunks", len(chunks)).
		Msg("Starting batch fetch")

	if len(chunks) == 1 {
		return bf.fetchChunk(ctx, chunks[0])
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan int, len(chunks))
	for i := range chunks {
		queue <- i
	}
	close(queue)

	results := make(chan chunkResult[T], len(chunks))

	workers := min(bf.config.MaxConcurrency, len(chunks))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, chunks, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([][]T, len(chunks))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		ordered[res.index] = res.values
	}

	if firstErr == nil {
		// Workers stop early only on cancellation.
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Int("chunks", len(chunks)).
			Msg("Batch fetch failed")
		return nil, firstErr
	}

	var out []T
	for _, values := range ordered {
		out = append(out, values...)
	}

	log.Debug().
		Int("chunks", len(chunks)).
		Int("values", len(out)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return out, nil
}

func (bf *BatchFetcher[T]) fetchChunk(ctx context.Context, chunk []string) ([]T, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	defer cancel()

	values, err := bf.fetch(chunkCtx, chunk)
	if err != nil {
		batchChunksFetched.WithLabelValues("error").Inc()
		return nil, err
	}
	batchChunksFetched.WithLabelValues("ok").Inc()
	return values, nil
}

// worker processes chunks from the queue
func (bf *BatchFetcher[T]) worker(ctx context.Context, chunks [][]string, queue <-chan int, results chan<- chunkResult[T], wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for idx := range queue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("chunks_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		values, err := bf.fetchChunk(ctx, chunks[idx])
		if err != nil {
			err = fmt.Errorf("chunk %d: %w", idx, err)
		}
		results <- chunkResult[T]{index: idx, values: values, err: err}
		processed++
	}
}

func splitChunks(keys []string, size int) [][]string {
	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for len(keys) > size {
		chunks = append(chunks, keys[:size:size])
		keys = keys[size:]
	}
	return append(chunks, keys)
}
