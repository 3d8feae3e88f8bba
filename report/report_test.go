package report

import (
	"testing"

	"github.com/opensearch-project/reindex-from-snapshot/metadata"
	"github.com/opensearch-project/reindex-from-snapshot/pipeline"
)

func TestBuilderAggregatesAcrossShardsOfSameIndex(t *testing.T) {
	b := NewBuilder()
	b.AddPipelineResult("idx_logs", 100, pipeline.Result{Succeeded: 100})
	b.AddPipelineResult("idx_logs", 50, pipeline.Result{
		Succeeded: 49,
		Failed:    []pipeline.FailedDoc{{IndexName: "idx_logs", DocID: "d1", Cause: "non-retryable per-doc bulk error"}},
	})
	r := b.Build()

	if len(r.Indices) != 1 {
		t.Fatalf("expected one index entry, got %d", len(r.Indices))
	}
	if r.Indices[0].Attempted != 150 || r.Indices[0].Succeeded != 149 {
		t.Fatalf("expected attempted=150 succeeded=149, got %+v", r.Indices[0])
	}
	if len(r.FailedItems) != 1 || r.FailedItems[0].Name != "d1" {
		t.Fatalf("expected one failed doc d1, got %+v", r.FailedItems)
	}
	if r.TotalAttempted != 150 || r.TotalSucceeded != 149 {
		t.Fatalf("expected totals to match the single index, got attempted=%d succeeded=%d", r.TotalAttempted, r.TotalSucceeded)
	}
}

func TestBuilderRecordsMultiTypeResolutionFailureAsFailedItem(t *testing.T) {
	b := NewBuilder()
	b.AddMetadataReport(metadata.Report{
		Outcomes: []metadata.Outcome{
			{Name: "idx_legacy", Kind: metadata.KindIndex, Successful: false, Failure: "MultiTypeResolutionRequired: 2 mapping types present"},
			{Name: "idx_a", Kind: metadata.KindIndex, Successful: true},
		},
		Failed: 1,
	})
	r := b.Build()

	if len(r.FailedItems) != 1 || r.FailedItems[0].Name != "idx_legacy" {
		t.Fatalf("expected idx_legacy recorded as a failed item, got %+v", r.FailedItems)
	}
	if len(r.MetadataItems) != 2 {
		t.Fatalf("expected both metadata outcomes retained, got %d", len(r.MetadataItems))
	}
}

func TestJSONRendersThroughSharedMarshaler(t *testing.T) {
	b := NewBuilder()
	b.AddPipelineResult("idx_a", 0, pipeline.Result{})
	raw, err := b.Build().JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty JSON output")
	}
}
