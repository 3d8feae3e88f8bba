// Package report aggregates one migration run into the structured JSON
// summary printed on exit: per-index document totals attempted vs
// succeeded, each metadata item's outcome, and the list of failed items
// with reasons. It does not aggregate counts per item kind. cmd/rfsworker
// prints this report and derives its exit code from it.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package report

import (
	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/metadata"
	"github.com/opensearch-project/reindex-from-snapshot/pipeline"
)

// IndexReport is one index's document migration counts.
type IndexReport struct {
	Name      string `json:"name"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
}

// FailedItem is one document or metadata item that never succeeded,
// carrying enough context to re-run or investigate it.
type FailedItem struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Index  string `json:"index,omitempty"`
	Reason string `json:"reason"`
}

// Report is the top-level structure printed at the end of a run.
type Report struct {
	Indices        []IndexReport      `json:"indices"`
	MetadataItems  []metadata.Outcome `json:"metadata_items"`
	FailedItems    []FailedItem       `json:"failed_items,omitempty"`
	TotalAttempted int                `json:"total_attempted"`
	TotalSucceeded int                `json:"total_succeeded"`
}

// Builder accumulates per-index pipeline results and a metadata migration
// report into a single Report, matching the CLI's one-builder-per-run use.
type Builder struct {
	indices map[string]*IndexReport
	failed  []FailedItem
	meta    []metadata.Outcome
}

func NewBuilder() *Builder {
	return &Builder{indices: map[string]*IndexReport{}}
}

// AddPipelineResult folds one shard's pipeline.Result into indexName's
// running totals.
func (b *Builder) AddPipelineResult(indexName string, attempted int, res pipeline.Result) {
	ir, ok := b.indices[indexName]
	if !ok {
		ir = &IndexReport{Name: indexName}
		b.indices[indexName] = ir
	}
	ir.Attempted += attempted
	ir.Succeeded += res.Succeeded
	for _, f := range res.Failed {
		b.failed = append(b.failed, FailedItem{
			Kind:   "document",
			Name:   f.DocID,
			Index:  f.IndexName,
			Reason: f.Cause,
		})
	}
}

// AddMetadataReport folds a metadata.Report's per-item outcomes in.
func (b *Builder) AddMetadataReport(mr metadata.Report) {
	b.meta = append(b.meta, mr.Outcomes...)
	for _, o := range mr.Outcomes {
		if !o.Successful {
			b.failed = append(b.failed, FailedItem{
				Kind:   string(o.Kind),
				Name:   o.Name,
				Reason: o.Failure,
			})
		}
	}
}

// Build renders the accumulated state into a final Report.
func (b *Builder) Build() Report {
	out := Report{MetadataItems: b.meta, FailedItems: b.failed}
	for _, ir := range b.indices {
		out.Indices = append(out.Indices, *ir)
		out.TotalAttempted += ir.Attempted
		out.TotalSucceeded += ir.Succeeded
	}
	return out
}

// JSON renders r using the module's shared jsoniter configuration, not
// the stdlib encoding/json, so the report stays consistent with every
// other JSON boundary in the system.
func (r Report) JSON() ([]byte, error) {
	return cmn.Marshal(r)
}
