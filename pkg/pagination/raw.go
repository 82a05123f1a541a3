package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"github.com/Sternrassler/usda-ndb-client/pkg/apierr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RawPaginator yields the raw records of a list endpoint one at a time,
// fetching a new page whenever its buffer is empty.
//
// The zero value is not usable; construct with NewRawPaginator.
type RawPaginator struct {
	fetcher  Fetcher
	req      Request
	pageSize int
	limit    int

	offset    int
	yielded   int
	buffer    []json.RawMessage
	exhausted bool
	err       error

	logger zerolog.Logger
}

// NewRawPaginator creates a paginator over req. No request is made until
// the first call to Next.
func NewRawPaginator(fetcher Fetcher, req Request, cfg Config) (*RawPaginator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if req.Path == "" {
		return nil, apierr.Usagef("path", "must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if req.Items == nil {
		req.Items = ListItems
	}
	req.Params = cloneValues(req.Params)

	return &RawPaginator{
		fetcher:  fetcher,
		req:      req,
		pageSize: cfg.PageSize,
		limit:    cfg.Limit,
		offset:   cfg.Offset,
		logger: log.With().
			Str("component", "pagination").
			Str("endpoint", req.Path).
			Logger(),
	}, nil
}

// Next returns the next raw record. It returns Done once the sequence has
// ended, and the fetch error if a page fetch failed; both are final.
// Buffered records are always returned before a new fetch is attempted.
func (p *RawPaginator) Next(ctx context.Context) (json.RawMessage, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.limitReached() {
		return nil, Done
	}

	if len(p.buffer) == 0 {
		if p.exhausted {
			return nil, Done
		}
		if err := p.fetchPage(ctx); err != nil {
			p.err = err
			return nil, err
		}
		if len(p.buffer) == 0 {
			return nil, Done
		}
	}

	item := p.buffer[0]
	p.buffer[0] = nil
	p.buffer = p.buffer[1:]
	p.offset++
	p.yielded++
	itemsYielded.WithLabelValues(p.req.Path).Inc()

	return item, nil
}

// fetchPage requests one page at the current offset and refills the buffer.
func (p *RawPaginator) fetchPage(ctx context.Context) error {
	want := p.pageSize
	if p.limit > 0 {
		if remaining := p.limit - p.yielded; remaining < want {
			want = remaining
		}
	}

	params := cloneValues(p.req.Params)
	params.Set("max", strconv.Itoa(want))
	params.Set("offset", strconv.Itoa(p.offset))

	p.logger.Debug().
		Int("offset", p.offset).
		Int("max", want).
		Msg("Fetching page")

	body, err := p.fetcher.Fetch(ctx, p.req.Path, params, p.req.APIKey)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Int("offset", p.offset).
			Msg("Page fetch failed")
		return err
	}

	if err := apierr.Classify(body); err != nil {
		p.logger.Warn().
			Err(err).
			Int("offset", p.offset).
			Msg("Page returned API error")
		return err
	}

	items, err := p.req.Items(body)
	if err != nil {
		return err
	}
	pagesFetched.WithLabelValues(p.req.Path).Inc()

	// Upstream ignoring max must not push the cursor past what was asked for.
	if len(items) > want {
		items = items[:want]
	}

	if len(items) < want {
		p.exhausted = true
		paginatorsExhausted.WithLabelValues(p.req.Path).Inc()
		p.logger.Debug().
			Int("offset", p.offset).
			Int("items", len(items)).
			Int("requested", want).
			Msg("Short page, no further fetches")
	}

	p.buffer = items
	return nil
}

func (p *RawPaginator) limitReached() bool {
	return p.limit > 0 && p.yielded >= p.limit
}

// All returns an iterator over the remaining records. Iteration stops after
// the first error, which is yielded with a nil record.
func (p *RawPaginator) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			item, err := p.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains the paginator into a slice.
func (p *RawPaginator) Collect(ctx context.Context) ([]json.RawMessage, error) {
	var items []json.RawMessage
	for item, err := range p.All(ctx) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Offset returns the current offset cursor: the starting offset plus the
// number of records yielded so far.
func (p *RawPaginator) Offset() int {
	return p.offset
}

// Exhausted reports whether the sequence has run out: a short page has been
// fetched and fully consumed, or the limit has been reached.
func (p *RawPaginator) Exhausted() bool {
	return (p.exhausted && len(p.buffer) == 0) || p.limitReached()
}

// FetchesDone reports whether no further page will be fetched. Unlike
// Exhausted it turns true as soon as the short page arrives, while its
// records may still be buffered.
func (p *RawPaginator) FetchesDone() bool {
	return p.exhausted || p.limitReached()
}

// Buffered returns the number of fetched records not yet yielded.
func (p *RawPaginator) Buffered() int {
	return len(p.buffer)
}

// Path returns the endpoint path.
func (p *RawPaginator) Path() string {
	return p.req.Path
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
