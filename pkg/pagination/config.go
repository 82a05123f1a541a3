package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/Sternrassler/usda-ndb-client/pkg/apierr"
)

// DefaultPageSize is the number of items requested per page when no page
// size is configured.
const DefaultPageSize = 50

// Done is returned by Next once a sequence has no more items. It marks the
// normal end of iteration and is never returned alongside an item.
var Done = errors.New("no more items")

// Fetcher issues a single GET request and returns the JSON body.
// pkg/client.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, path string, params url.Values, apiKey string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, path string, params url.Values, apiKey string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, path string, params url.Values, apiKey string) ([]byte, error) {
	return f(ctx, path, params, apiKey)
}

// ItemsFunc extracts the records of one page from a response body.
type ItemsFunc func(body []byte) ([]json.RawMessage, error)

// Request describes the endpoint a paginator walks.
type Request struct {
	// Path is the endpoint path relative to the API base (e.g. "list").
	Path string

	// Params are the fixed query parameters sent with every page
	// (e.g. lt=f). offset and max are managed by the paginator.
	Params url.Values

	// APIKey is passed through to the Fetcher.
	APIKey string

	// Items extracts records from a page. Defaults to ListItems.
	Items ItemsFunc
}

// Config holds the pagination settings of a single paginator.
type Config struct {
	// PageSize is the max value sent per request.
	PageSize int

	// Limit caps the total number of items yielded. 0 means unbounded.
	Limit int

	// Offset is the starting position in the upstream result set.
	Offset int
}

// DefaultConfig returns an unbounded configuration starting at offset 0.
func DefaultConfig() Config {
	return Config{
		PageSize: DefaultPageSize,
	}
}

// Validate checks the configuration and returns an *apierr.UsageError on
// invalid values.
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return apierr.Usagef("page size", "must be positive, got %d", c.PageSize)
	}
	if c.Limit < 0 {
		return apierr.Usagef("max", "must not be negative, got %d", c.Limit)
	}
	if c.Offset < 0 {
		return apierr.Usagef("offset", "must not be negative, got %d", c.Offset)
	}
	return nil
}

// ListItems extracts list.item from a list or search response:
//
//	{"list": {"item": [ ... ]}}
//
// A missing list or item field yields an empty page.
func ListItems(body []byte) ([]json.RawMessage, error) {
	var env struct {
		List *struct {
			Item json.RawMessage `json:"item"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &apierr.ConversionError{Type: "list", Err: err}
	}
	if env.List == nil {
		return nil, nil
	}
	return decodeItems("list", "item", env.List.Item)
}

// ReportFoods extracts report.foods from a nutrient report response:
//
//	{"report": {"foods": [ ... ]}}
func ReportFoods(body []byte) ([]json.RawMessage, error) {
	var env struct {
		Report *struct {
			Foods json.RawMessage `json:"foods"`
		} `json:"report"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &apierr.ConversionError{Type: "report", Err: err}
	}
	if env.Report == nil {
		return nil, nil
	}
	return decodeItems("report", "foods", env.Report.Foods)
}

func decodeItems(typ, field string, raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &apierr.ConversionError{Type: typ, Field: field, Err: err}
	}
	return items, nil
}
