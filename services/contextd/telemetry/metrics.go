// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined instruments for the context daemon.
//
// Description:
//
//	Counters and histograms for index builds, incremental updates,
//	retrieval, budget allocation, and the vector store. All instruments
//	use the "context_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// IndexBuildsTotal counts full index builds by status.
	IndexBuildsTotal metric.Int64Counter

	// IndexBuildDuration records full build duration in seconds.
	IndexBuildDuration metric.Float64Histogram

	// UpdatesTotal counts incremental update batches by status.
	UpdatesTotal metric.Int64Counter

	// UpdateDuration records incremental update duration in seconds.
	UpdateDuration metric.Float64Histogram

	// UnitsIndexed counts code units added or refreshed.
	UnitsIndexed metric.Int64Counter

	// QueriesTotal counts context queries by status.
	QueriesTotal metric.Int64Counter

	// QueryDuration records end-to-end query duration in seconds.
	QueryDuration metric.Float64Histogram

	// CandidatesRetrieved records candidate set size per query.
	CandidatesRetrieved metric.Int64Histogram

	// BudgetUtilization records admitted tokens over budget per query.
	BudgetUtilization metric.Float64Histogram

	// VectorRequestsTotal counts vector store operations by op and status.
	VectorRequestsTotal metric.Int64Counter

	// VectorRequestDuration records vector store operation duration.
	VectorRequestDuration metric.Float64Histogram
}

// NewMetrics registers all daemon instruments on the meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.IndexBuildsTotal, err = meter.Int64Counter(
		"context_index_builds_total",
		metric.WithDescription("Full index build operations"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create index_builds_total: %w", err)
	}

	m.IndexBuildDuration, err = meter.Float64Histogram(
		"context_index_build_duration_seconds",
		metric.WithDescription("Full index build duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create index_build_duration: %w", err)
	}

	m.UpdatesTotal, err = meter.Int64Counter(
		"context_updates_total",
		metric.WithDescription("Incremental update batches"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create updates_total: %w", err)
	}

	m.UpdateDuration, err = meter.Float64Histogram(
		"context_update_duration_seconds",
		metric.WithDescription("Incremental update duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create update_duration: %w", err)
	}

	m.UnitsIndexed, err = meter.Int64Counter(
		"context_units_indexed_total",
		metric.WithDescription("Code units added or refreshed"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create units_indexed_total: %w", err)
	}

	m.QueriesTotal, err = meter.Int64Counter(
		"context_queries_total",
		metric.WithDescription("Context queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create queries_total: %w", err)
	}

	m.QueryDuration, err = meter.Float64Histogram(
		"context_query_duration_seconds",
		metric.WithDescription("End-to-end query duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create query_duration: %w", err)
	}

	m.CandidatesRetrieved, err = meter.Int64Histogram(
		"context_candidates_retrieved",
		metric.WithDescription("Candidate set size per query"),
		metric.WithUnit("{candidate}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		return nil, fmt.Errorf("create candidates_retrieved: %w", err)
	}

	m.BudgetUtilization, err = meter.Float64Histogram(
		"context_budget_utilization_ratio",
		metric.WithDescription("Admitted tokens over budget per query"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create budget_utilization: %w", err)
	}

	m.VectorRequestsTotal, err = meter.Int64Counter(
		"context_vector_requests_total",
		metric.WithDescription("Vector store operations"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create vector_requests_total: %w", err)
	}

	m.VectorRequestDuration, err = meter.Float64Histogram(
		"context_vector_request_duration_seconds",
		metric.WithDescription("Vector store operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create vector_request_duration: %w", err)
	}

	return m, nil
}
