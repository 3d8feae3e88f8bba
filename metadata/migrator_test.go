package metadata

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeSource struct {
	global  GlobalMetadata
	indices map[string]IndexMetadata
}

func (f *fakeSource) ReadGlobalMetadata(context.Context) (GlobalMetadata, error) { return f.global, nil }

func (f *fakeSource) ReadIndexMetadata(_ context.Context, name string) (IndexMetadata, error) {
	return f.indices[name], nil
}

func TestMigrateSimulateRecordsOutcomesWithoutWriting(t *testing.T) {
	src := &fakeSource{
		global: GlobalMetadata{
			LegacyTemplates: []Item{{Kind: KindLegacyTemplate, Name: "t1", TargetPath: "/_template/t1", Body: json.RawMessage(`{}`)}},
		},
		indices: map[string]IndexMetadata{
			"idx-1": {Settings: json.RawMessage(`{"index":{}}`), Mappings: json.RawMessage(`{}`)},
		},
	}
	m := &Migrator{
		Source:        src,
		Target:        nil, // unused in Simulate mode
		SourceVersion: mustParse(t, "es-7.10.2"),
		TargetVersion: mustParse(t, "os-2.11.0"),
		Simulate:      true,
		IndexNames:    []string{"idx-1"},
	}
	report, err := m.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if report.Failed != 0 {
		t.Fatalf("expected no failures in simulate mode, got %d: %+v", report.Failed, report.Outcomes)
	}
	var sawTemplate, sawIndex bool
	for _, o := range report.Outcomes {
		if o.Kind == KindLegacyTemplate && o.Name == "t1" {
			sawTemplate = true
		}
		if o.Kind == KindIndex && o.Name == "idx-1" {
			sawIndex = true
		}
	}
	if !sawTemplate || !sawIndex {
		t.Fatalf("expected outcomes for both the template and the index, got %+v", report.Outcomes)
	}
}

func TestMigrateRecordsMultiTypeResolutionFailureWithoutAbortingRun(t *testing.T) {
	src := &fakeSource{
		indices: map[string]IndexMetadata{
			"idx-1": {
				Settings: json.RawMessage(`{}`),
				MappingTypes: map[string]json.RawMessage{
					"type_a": json.RawMessage(`{"properties":{}}`),
					"type_b": json.RawMessage(`{"properties":{}}`),
				},
			},
			"idx-2": {Settings: json.RawMessage(`{}`), Mappings: json.RawMessage(`{}`)},
		},
	}
	m := &Migrator{
		Source:        src,
		SourceVersion: mustParse(t, "es-6.8.0"),
		TargetVersion: mustParse(t, "os-2.11.0"),
		Simulate:      true,
		IndexNames:    []string{"idx-1", "idx-2"},
	}
	report, err := m.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected exactly one failure (idx-1's unresolved multi-type), got %d: %+v", report.Failed, report.Outcomes)
	}
	var sawIdx2Success bool
	for _, o := range report.Outcomes {
		if o.Name == "idx-2" && o.Successful {
			sawIdx2Success = true
		}
	}
	if !sawIdx2Success {
		t.Fatalf("expected idx-2 to still migrate despite idx-1's failure, got %+v", report.Outcomes)
	}
}
