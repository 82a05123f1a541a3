package usda

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/usda-ndb-client/pkg/apierr"
	"github.com/Sternrassler/usda-ndb-client/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Upstream per-request caps. Requests exceeding them fail with an
// *apierr.UsageError before anything is sent.
const (
	MaxNutrientsPerReport  = 20
	MaxFoodGroupsPerReport = 10
	MaxFoodsPerV2Report    = 25
)

// List types of the list endpoint.
const (
	listFoods           = "f"
	listNutrients       = "n"
	listFoodGroups      = "g"
	listDerivationCodes = "d"
)

// Client exposes the NDB endpoints as paginators and single-record calls.
//
// Paginators returned by the list methods are independent cursors. Each one
// must be consumed by a single goroutine.
type Client struct {
	fetcher  pagination.Fetcher
	apiKey   string
	pageSize int
	batch    pagination.BatchConfig
	logger   zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize sets the number of records requested per page.
func WithPageSize(n int) Option {
	return func(c *Client) {
		c.pageSize = n
	}
}

// WithBatchConfig sets the worker pool used by FoodReportsV2.
func WithBatchConfig(cfg pagination.BatchConfig) Option {
	return func(c *Client) {
		c.batch = cfg
	}
}

// NewClient creates a client that issues requests through fetcher,
// typically a *client.Client.
func NewClient(fetcher pagination.Fetcher, apiKey string, opts ...Option) *Client {
	c := &Client{
		fetcher:  fetcher,
		apiKey:   apiKey,
		pageSize: pagination.DefaultPageSize,
		batch:    pagination.DefaultBatchConfig(),
		logger:   log.With().Str("component", "usda").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIKey returns the key sent with every request.
func (c *Client) APIKey() string {
	return c.apiKey
}

func (c *Client) paginate(path string, params url.Values, items pagination.ItemsFunc, max, offset int) (*pagination.RawPaginator, error) {
	if max < 0 {
		max = 0
	}
	return pagination.NewRawPaginator(c.fetcher, pagination.Request{
		Path:   path,
		Params: params,
		APIKey: c.apiKey,
		Items:  items,
	}, pagination.Config{
		PageSize: c.pageSize,
		Limit:    max,
		Offset:   offset,
	})
}

func (c *Client) list(listType string, max, offset int) (*pagination.RawPaginator, error) {
	return c.paginate("list", url.Values{
		"lt":   {listType},
		"sort": {"n"},
	}, pagination.ListItems, max, offset)
}

func model[T any](raw *pagination.RawPaginator, err error, convert pagination.Converter[T]) (*pagination.ModelPaginator[T], error) {
	if err != nil {
		return nil, err
	}
	return pagination.NewModelPaginator(raw, convert), nil
}

// ListFoodsRaw pages through all foods, sorted by name. max <= 0 means no
// limit.
func (c *Client) ListFoodsRaw(max, offset int) (*pagination.RawPaginator, error) {
	return c.list(listFoods, max, offset)
}

// ListFoods is ListFoodsRaw with records converted to Food.
func (c *Client) ListFoods(max, offset int) (*pagination.ModelPaginator[Food], error) {
	raw, err := c.ListFoodsRaw(max, offset)
	return model(raw, err, FoodFromResponse)
}

// ListNutrientsRaw pages through all nutrients.
func (c *Client) ListNutrientsRaw(max, offset int) (*pagination.RawPaginator, error) {
	return c.list(listNutrients, max, offset)
}

// ListNutrients is ListNutrientsRaw with records converted to Nutrient.
func (c *Client) ListNutrients(max, offset int) (*pagination.ModelPaginator[Nutrient], error) {
	raw, err := c.ListNutrientsRaw(max, offset)
	return model(raw, err, NutrientFromResponse)
}

// ListFoodGroupsRaw pages through all food groups.
func (c *Client) ListFoodGroupsRaw(max, offset int) (*pagination.RawPaginator, error) {
	return c.list(listFoodGroups, max, offset)
}

// ListFoodGroups is ListFoodGroupsRaw with records converted to FoodGroup.
func (c *Client) ListFoodGroups(max, offset int) (*pagination.ModelPaginator[FoodGroup], error) {
	raw, err := c.ListFoodGroupsRaw(max, offset)
	return model(raw, err, FoodGroupFromResponse)
}

// ListDerivationCodesRaw pages through all derivation codes.
func (c *Client) ListDerivationCodesRaw(max, offset int) (*pagination.RawPaginator, error) {
	return c.list(listDerivationCodes, max, offset)
}

// ListDerivationCodes is ListDerivationCodesRaw with records converted to
// DerivationCode.
func (c *Client) ListDerivationCodes(max, offset int) (*pagination.ModelPaginator[DerivationCode], error) {
	raw, err := c.ListDerivationCodesRaw(max, offset)
	return model(raw, err, DerivationCodeFromResponse)
}

// SearchOptions narrows a food search.
type SearchOptions struct {
	// FoodGroup restricts results to one food group ID.
	FoodGroup string
	// DataSource is "Standard Reference" or "Branded Food Products".
	DataSource string
	// SortByRelevance sorts by search relevance instead of name.
	SortByRelevance bool
}

// SearchFoodsRaw pages through the foods matching query.
func (c *Client) SearchFoodsRaw(query string, max, offset int, opts SearchOptions) (*pagination.RawPaginator, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apierr.Usagef("q", "search query must not be empty")
	}

	params := url.Values{"q": {query}, "sort": {"n"}}
	if opts.SortByRelevance {
		params.Set("sort", "r")
	}
	if opts.FoodGroup != "" {
		params.Set("fg", opts.FoodGroup)
	}
	if opts.DataSource != "" {
		params.Set("ds", opts.DataSource)
	}
	return c.paginate("search", params, pagination.ListItems, max, offset)
}

// SearchFoods is SearchFoodsRaw with records converted to Food.
func (c *Client) SearchFoods(query string, max, offset int, opts SearchOptions) (*pagination.ModelPaginator[Food], error) {
	raw, err := c.SearchFoodsRaw(query, max, offset, opts)
	return model(raw, err, FoodFromResponse)
}

// NutrientReportOptions narrows a nutrient report.
type NutrientReportOptions struct {
	// FoodGroups restricts the report to at most MaxFoodGroupsPerReport groups.
	FoodGroups []string
	// NDBNOs restricts the report to specific foods.
	NDBNOs []string
	// Subset limits the report to the abridged list of about 1000 common foods.
	Subset bool
	// SortByContent sorts by nutrient content instead of food name.
	SortByContent bool
}

// NutrientReportRaw pages through the foods of a report on the given
// nutrient IDs. It fails with a UsageError, without fetching, when more than
// MaxNutrientsPerReport nutrients or MaxFoodGroupsPerReport groups are given.
func (c *Client) NutrientReportRaw(nutrients []int, max, offset int, opts NutrientReportOptions) (*pagination.RawPaginator, error) {
	if len(nutrients) == 0 {
		return nil, apierr.Usagef("nutrients", "at least one nutrient is required")
	}
	if len(nutrients) > MaxNutrientsPerReport {
		return nil, apierr.Usagef("nutrients", "at most %d nutrients per report, got %d", MaxNutrientsPerReport, len(nutrients))
	}
	if len(opts.FoodGroups) > MaxFoodGroupsPerReport {
		return nil, apierr.Usagef("fg", "at most %d food groups per report, got %d", MaxFoodGroupsPerReport, len(opts.FoodGroups))
	}

	params := url.Values{}
	for _, n := range nutrients {
		params.Add("nutrients", strconv.Itoa(n))
	}
	for _, fg := range opts.FoodGroups {
		params.Add("fg", fg)
	}
	for _, ndbno := range opts.NDBNOs {
		params.Add("ndbno", ndbno)
	}
	if opts.Subset {
		params.Set("subset", "1")
	}
	sort := "f"
	if opts.SortByContent {
		sort = "c"
	}
	params.Set("sort", sort)

	return c.paginate("nutrients", params, pagination.ReportFoods, max, offset)
}

// NutrientReport is NutrientReportRaw with records converted to
// NutrientReportFood.
func (c *Client) NutrientReport(nutrients []int, max, offset int, opts NutrientReportOptions) (*pagination.ModelPaginator[NutrientReportFood], error) {
	raw, err := c.NutrientReportRaw(nutrients, max, offset, opts)
	return model(raw, err, NutrientReportFoodFromResponse)
}

func normalizeReportType(typ ReportType) (ReportType, error) {
	if typ == "" {
		return ReportBasic, nil
	}
	if !typ.Valid() {
		return "", apierr.Usagef("type", "unknown report type %q", string(typ))
	}
	return typ, nil
}

// FoodReportRaw fetches the report of one food and returns the response
// body once it has been checked for an embedded API error.
func (c *Client) FoodReportRaw(ctx context.Context, ndbno string, typ ReportType) (json.RawMessage, error) {
	if ndbno == "" {
		return nil, apierr.Usagef("ndbno", "must not be empty")
	}
	typ, err := normalizeReportType(typ)
	if err != nil {
		return nil, err
	}

	body, err := c.fetcher.Fetch(ctx, "reports", url.Values{
		"ndbno": {ndbno},
		"type":  {string(typ)},
	}, c.apiKey)
	if err != nil {
		return nil, err
	}
	if err := apierr.Classify(body); err != nil {
		c.logger.Debug().
			Err(err).
			Str("ndbno", ndbno).
			Msg("Food report returned API error")
		return nil, err
	}
	return body, nil
}

// FoodReport fetches and converts the report of one food.
func (c *Client) FoodReport(ctx context.Context, ndbno string, typ ReportType) (FoodReport, error) {
	body, err := c.FoodReportRaw(ctx, ndbno, typ)
	if err != nil {
		return FoodReport{}, err
	}
	return FoodReportFromResponse(body)
}

// FoodReportV2Raw fetches the V2 reports of up to MaxFoodsPerV2Report
// foods in one request. If any requested food comes back with an error the
// whole call fails with an *apierr.APIError carrying the count and notfound
// counters of the response.
func (c *Client) FoodReportV2Raw(ctx context.Context, ndbnos []string, typ ReportType) (json.RawMessage, error) {
	if len(ndbnos) == 0 {
		return nil, apierr.Usagef("ndbno", "at least one food is required")
	}
	if len(ndbnos) > MaxFoodsPerV2Report {
		return nil, apierr.Usagef("ndbno", "at most %d foods per report, got %d", MaxFoodsPerV2Report, len(ndbnos))
	}
	typ, err := normalizeReportType(typ)
	if err != nil {
		return nil, err
	}

	body, err := c.fetcher.Fetch(ctx, "V2/reports", url.Values{
		"ndbno": ndbnos,
		"type":  {string(typ)},
	}, c.apiKey)
	if err != nil {
		return nil, err
	}
	if err := apierr.ClassifyReportV2(body); err != nil {
		c.logger.Debug().
			Err(err).
			Strs("ndbnos", ndbnos).
			Msg("V2 food report returned API error")
		return nil, err
	}
	return body, nil
}

// FoodReportV2 fetches and converts the V2 reports of up to
// MaxFoodsPerV2Report foods, in the order upstream returns them.
func (c *Client) FoodReportV2(ctx context.Context, ndbnos []string, typ ReportType) ([]FoodReport, error) {
	body, err := c.FoodReportV2Raw(ctx, ndbnos, typ)
	if err != nil {
		return nil, err
	}

	var env struct {
		Foods []json.RawMessage `json:"foods"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &apierr.ConversionError{Type: "FoodReportV2", Err: err}
	}

	reports := make([]FoodReport, 0, len(env.Foods))
	for _, raw := range env.Foods {
		fr, err := FoodReportV2FromResponse(raw)
		if err != nil {
			return nil, err
		}
		reports = append(reports, fr)
	}
	return reports, nil
}

// FoodReportsV2 fetches the V2 reports of any number of foods, splitting
// them into requests of MaxFoodsPerV2Report that run in parallel. Reports
// are returned in request order; the first failing request fails the call.
func (c *Client) FoodReportsV2(ctx context.Context, typ ReportType, ndbnos ...string) ([]FoodReport, error) {
	if _, err := normalizeReportType(typ); err != nil {
		return nil, err
	}
	bf := pagination.NewBatchFetcher(func(ctx context.Context, chunk []string) ([]FoodReport, error) {
		return c.FoodReportV2(ctx, chunk, typ)
	}, c.batch)
	return bf.FetchAll(ctx, ndbnos, MaxFoodsPerV2Report)
}
