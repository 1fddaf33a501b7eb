// Package metrics exposes Prometheus instrumentation for the PACS node.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InstancesStored counts C-STORE ingests by outcome.
	InstancesStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacsnode_instances_stored_total",
		Help: "Instances received over C-STORE, by outcome.",
	}, []string{"outcome"})

	// QueriesHandled counts C-FIND queries by outcome.
	QueriesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacsnode_queries_handled_total",
		Help: "C-FIND queries handled, by outcome.",
	}, []string{"outcome"})

	// RetrievesStarted counts C-MOVE retrieves by terminal outcome.
	RetrievesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacsnode_retrieves_total",
		Help: "C-MOVE retrieves, by terminal outcome.",
	}, []string{"outcome"})

	// SubOperations counts C-MOVE sub-operations by result.
	SubOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacsnode_retrieve_suboperations_total",
		Help: "C-MOVE sub-operation transfers, by result.",
	}, []string{"result"})

	// TransferDuration observes per-instance outbound transfer time.
	TransferDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pacsnode_transfer_duration_seconds",
		Help:    "Time to transfer one instance to a move destination.",
		Buckets: prometheus.DefBuckets,
	})
)

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// ListenAndServe serves /metrics on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
