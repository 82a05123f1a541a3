// Package pagination turns offset-paginated NDB list endpoints into lazy,
// single-pass sequences.
//
// The NDB API pages list results with two query parameters: max (page size)
// and offset (position of the first item). A RawPaginator hides those page
// boundaries and yields one raw JSON record at a time, fetching the next page
// only when its buffer runs dry. A ModelPaginator wraps a RawPaginator and
// converts each record into a typed value.
//
// Example usage:
//
//	raw, err := pagination.NewRawPaginator(fetcher, pagination.Request{
//		Path:   "list",
//		Params: url.Values{"lt": {"f"}},
//		APIKey: apiKey,
//	}, pagination.Config{PageSize: 50, Limit: 200})
//	if err != nil {
//		return err
//	}
//	foods := pagination.NewModelPaginator(raw, usda.FoodFromResponse)
//	for food, err := range foods.All(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(food.Name)
//	}
//
// The paginator:
//   - Requests max=min(page size, remaining limit) starting at the current offset
//   - Advances the offset by one per yielded item
//   - Stops fetching once a page comes back shorter than requested
//   - Stops without fetching once the configured limit is reached
//   - Propagates transport, API and conversion errors unchanged
//
// Paginators are cursors, not collections: they cannot be rewound, and a
// single instance must not be shared between goroutines.
package pagination
