package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/Sternrassler/usda-ndb-client/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a list of total items, honouring max and offset like
// the NDB list endpoint.
type fakeSource struct {
	total    int
	ignoreMx bool
	calls    []url.Values
	failAt   int // call number (1-based) that fails; 0 never
	failErr  error
	bodyAt   map[int]string
}

func (s *fakeSource) Fetch(_ context.Context, path string, params url.Values, _ string) ([]byte, error) {
	s.calls = append(s.calls, params)
	n := len(s.calls)
	if s.failAt == n {
		return nil, s.failErr
	}
	if body, ok := s.bodyAt[n]; ok {
		return []byte(body), nil
	}

	max, _ := strconv.Atoi(params.Get("max"))
	offset, _ := strconv.Atoi(params.Get("offset"))
	end := offset + max
	if s.ignoreMx {
		end = offset + max + 5
	}
	if end > s.total {
		end = s.total
	}

	items := make([]string, 0)
	for i := offset; i < end; i++ {
		items = append(items, fmt.Sprintf(`{"id":"%05d","name":"item %d"}`, i, i))
	}
	return []byte(`{"list":{"item":[` + strings.Join(items, ",") + `]}}`), nil
}

func newRaw(t *testing.T, src Fetcher, cfg Config) *RawPaginator {
	t.Helper()
	p, err := NewRawPaginator(src, Request{
		Path:   "list",
		Params: url.Values{"lt": {"f"}},
		APIKey: "DEMO_KEY",
	}, cfg)
	require.NoError(t, err)
	return p
}

func TestNewRawPaginator_Validation(t *testing.T) {
	src := &fakeSource{}

	_, err := NewRawPaginator(nil, Request{Path: "list"}, DefaultConfig())
	assert.Error(t, err)

	_, err = NewRawPaginator(src, Request{}, DefaultConfig())
	assert.ErrorIs(t, err, apierr.ErrUsage)

	tests := []struct {
		name  string
		cfg   Config
		param string
	}{
		{"zero page size", Config{PageSize: 0}, "page size"},
		{"negative limit", Config{PageSize: 10, Limit: -1}, "max"},
		{"negative offset", Config{PageSize: 10, Offset: -3}, "offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRawPaginator(src, Request{Path: "list"}, tt.cfg)
			var usage *apierr.UsageError
			require.ErrorAs(t, err, &usage)
			assert.Equal(t, tt.param, usage.Parameter)
		})
	}

	assert.Empty(t, src.calls, "construction must not fetch")
}

func TestRawPaginator_YieldsAllAcrossPages(t *testing.T) {
	src := &fakeSource{total: 7}
	p := newRaw(t, src, Config{PageSize: 3})

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 7)

	// 3 + 3 + 1: the short third page ends the sequence without a fourth call.
	require.Len(t, src.calls, 3)
	assert.Equal(t, "0", src.calls[0].Get("offset"))
	assert.Equal(t, "3", src.calls[1].Get("offset"))
	assert.Equal(t, "6", src.calls[2].Get("offset"))
	for _, c := range src.calls {
		assert.Equal(t, "3", c.Get("max"))
		assert.Equal(t, "f", c.Get("lt"))
	}

	assert.True(t, p.Exhausted())
	assert.Equal(t, 7, p.Offset())

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, Done)
	assert.Len(t, src.calls, 3)
}

func TestRawPaginator_ExhaustedAfterShortPageDrains(t *testing.T) {
	src := &fakeSource{total: 3}
	p := newRaw(t, src, Config{PageSize: 5})
	ctx := context.Background()

	_, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Buffered())
	assert.True(t, p.FetchesDone(), "short page means no further fetch")
	assert.False(t, p.Exhausted(), "buffered records are still pending")

	_, err = p.Next(ctx)
	require.NoError(t, err)
	assert.False(t, p.Exhausted())

	_, err = p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Buffered())
	assert.True(t, p.Exhausted())
	assert.Equal(t, 3, p.Offset())

	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, Done)
	assert.Len(t, src.calls, 1)
}

func TestRawPaginator_ExactMultipleNeedsEmptyPage(t *testing.T) {
	src := &fakeSource{total: 6}
	p := newRaw(t, src, Config{PageSize: 3})

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 6)
	assert.Len(t, src.calls, 3)
	assert.Equal(t, "6", src.calls[2].Get("offset"))
}

func TestRawPaginator_LimitShrinksLastRequest(t *testing.T) {
	src := &fakeSource{total: 100}
	p := newRaw(t, src, Config{PageSize: 4, Limit: 10})

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 10)

	require.Len(t, src.calls, 3)
	assert.Equal(t, "4", src.calls[0].Get("max"))
	assert.Equal(t, "4", src.calls[1].Get("max"))
	assert.Equal(t, "2", src.calls[2].Get("max"))
	assert.True(t, p.Exhausted())
}

func TestRawPaginator_StartOffset(t *testing.T) {
	src := &fakeSource{total: 100}
	p := newRaw(t, src, Config{PageSize: 10, Limit: 10, Offset: 42})

	first, err := p.Next(context.Background())
	require.NoError(t, err)

	var rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(first, &rec))
	assert.Equal(t, "00042", rec.ID)
	assert.Equal(t, "42", src.calls[0].Get("offset"))
	assert.Equal(t, "10", src.calls[0].Get("max"))
	assert.Equal(t, 43, p.Offset())
}

func TestRawPaginator_UpstreamIgnoresMax(t *testing.T) {
	src := &fakeSource{total: 100, ignoreMx: true}
	p := newRaw(t, src, Config{PageSize: 5, Limit: 8})

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 8)
	assert.Equal(t, "5", src.calls[1].Get("offset"))
	assert.Equal(t, 8, p.Offset())
}

func TestRawPaginator_EmptyFirstPage(t *testing.T) {
	src := &fakeSource{total: 0}
	p := newRaw(t, src, DefaultConfig())

	_, err := p.Next(context.Background())
	assert.ErrorIs(t, err, Done)
	assert.True(t, p.Exhausted())
	assert.Len(t, src.calls, 1)
}

func TestRawPaginator_MissingListIsEmpty(t *testing.T) {
	src := &fakeSource{bodyAt: map[int]string{1: `{}`}}
	p := newRaw(t, src, DefaultConfig())

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRawPaginator_TransportErrorIsSticky(t *testing.T) {
	boom := errors.New("connection reset")
	src := &fakeSource{total: 10, failAt: 2, failErr: boom}
	p := newRaw(t, src, Config{PageSize: 4})

	var got int
	var gotErr error
	for _, err := range p.All(context.Background()) {
		if err != nil {
			gotErr = err
			break
		}
		got++
	}
	assert.Equal(t, 4, got)
	assert.ErrorIs(t, gotErr, boom)

	_, err := p.Next(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, src.calls, 2)
}

func TestRawPaginator_APIErrorInBody(t *testing.T) {
	src := &fakeSource{bodyAt: map[int]string{
		1: `{"errors":{"error":[{"status":400,"parameter":"lt","message":"bad list type"}]}}`,
	}}
	p := newRaw(t, src, DefaultConfig())

	_, err := p.Next(context.Background())
	var apiErr *apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "lt", apiErr.Parameter)
	assert.False(t, p.Exhausted())
}

func TestRawPaginator_MalformedItems(t *testing.T) {
	src := &fakeSource{bodyAt: map[int]string{1: `{"list":{"item":{"id":"1"}}}`}}
	p := newRaw(t, src, DefaultConfig())

	_, err := p.Next(context.Background())
	assert.ErrorIs(t, err, apierr.ErrConversion)
}

func TestRawPaginator_EarlyBreakKeepsCursor(t *testing.T) {
	src := &fakeSource{total: 20}
	p := newRaw(t, src, Config{PageSize: 5})

	n := 0
	for _, err := range p.All(context.Background()) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, p.Offset())
	assert.Equal(t, 2, p.Buffered())

	rest, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, rest, 17)
}

func TestRawPaginator_ParamsNotMutated(t *testing.T) {
	params := url.Values{"lt": {"f"}}
	src := &fakeSource{total: 3}
	p, err := NewRawPaginator(src, Request{Path: "list", Params: params}, DefaultConfig())
	require.NoError(t, err)

	_, err = p.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, params.Get("max"))
	assert.Empty(t, params.Get("offset"))
}

func TestReportFoods(t *testing.T) {
	items, err := ReportFoods([]byte(`{"report":{"foods":[{"ndbno":"01001"},{"ndbno":"01002"}]}}`))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = ReportFoods([]byte(`{"report":{}}`))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = ReportFoods([]byte(`not json`))
	assert.ErrorIs(t, err, apierr.ErrConversion)
}
