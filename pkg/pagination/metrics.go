package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndb_pages_fetched_total",
		Help: "Total pages fetched by paginators, by endpoint",
	}, []string{"endpoint"})

	itemsYielded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndb_items_yielded_total",
		Help: "Total raw items yielded by paginators, by endpoint",
	}, []string{"endpoint"})

	paginatorsExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndb_paginators_exhausted_total",
		Help: "Paginators that reached the end of upstream data, by endpoint",
	}, []string{"endpoint"})

	batchChunksFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndb_batch_chunks_total",
		Help: "Batch chunks fetched, by result",
	}, []string{"result"})
)
