package metadata

import (
	"encoding/json"
	"testing"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/version"
)

func mustParse(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestRemoveDeprecatedSettingsOnlyAppliesToES6(t *testing.T) {
	es6 := mustParse(t, "es-6.8.0")
	os2 := mustParse(t, "os-2.11.0")

	item := Item{Kind: KindIndex, Name: "a", Body: []byte(`{"settings":{"index":{"mapper.dynamic":"true","number_of_shards":"1"}}}`)}

	out, err := removeDeprecatedSettings(item, es6, os2, 0)
	if err != nil {
		t.Fatalf("removeDeprecatedSettings: %v", err)
	}
	var doc map[string]interface{}
	if err := cmn.Unmarshal(out.Body, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	settings := doc["settings"].(map[string]interface{})
	index := settings["index"].(map[string]interface{})
	if _, present := index["mapper.dynamic"]; present {
		t.Fatalf("expected index.mapper.dynamic removed, got %v", index)
	}
	if _, present := index["number_of_shards"]; !present {
		t.Fatalf("expected unrelated settings preserved, got %v", index)
	}
}

func TestRemoveDeprecatedSettingsNoOpForOS(t *testing.T) {
	os1 := mustParse(t, "os-1.3.0")
	os2 := mustParse(t, "os-2.11.0")
	body := []byte(`{"settings":{"index":{"number_of_shards":"1"}}}`)
	item := Item{Kind: KindIndex, Name: "a", Body: body}

	out, err := removeDeprecatedSettings(item, os1, os2, 0)
	if err != nil {
		t.Fatalf("removeDeprecatedSettings: %v", err)
	}
	if string(out.Body) != string(body) {
		t.Fatalf("expected no change for a non-ES source, got %s", out.Body)
	}
}

func TestEnforceMinReplicasRaisesLowValue(t *testing.T) {
	v := mustParse(t, "os-2.11.0")
	item := Item{Kind: KindIndex, Name: "a", Body: []byte(`{"settings":{"index":{"number_of_replicas":"0"}}}`)}

	out, err := enforceMinReplicas(item, v, v, 2)
	if err != nil {
		t.Fatalf("enforceMinReplicas: %v", err)
	}
	var doc map[string]interface{}
	if err := cmn.Unmarshal(out.Body, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	replicas := doc["settings"].(map[string]interface{})["index"].(map[string]interface{})["number_of_replicas"]
	if replicas != float64(2) {
		t.Fatalf("expected number_of_replicas raised to 2, got %v", replicas)
	}
}

func TestEnforceMinReplicasLeavesSufficientValue(t *testing.T) {
	v := mustParse(t, "os-2.11.0")
	body := []byte(`{"settings":{"index":{"number_of_replicas":"3"}}}`)
	item := Item{Kind: KindIndex, Name: "a", Body: body}

	out, err := enforceMinReplicas(item, v, v, 1)
	if err != nil {
		t.Fatalf("enforceMinReplicas: %v", err)
	}
	if string(out.Body) != string(body) {
		t.Fatalf("expected no change when replicas already meet the minimum, got %s", out.Body)
	}
}

func TestResolveMappingTypesRequiresModeForMultiType(t *testing.T) {
	im := IndexMetadata{
		MappingTypes: map[string]json.RawMessage{
			"type_a": json.RawMessage(`{"properties":{"f1":{"type":"keyword"}}}`),
			"type_b": json.RawMessage(`{"properties":{"f2":{"type":"keyword"}}}`),
		},
	}
	_, err := ResolveMappingTypes(im, "")
	if !cmn.IsKind(err, cmn.KindMultiTypeResolutionRequired) {
		t.Fatalf("expected KindMultiTypeResolutionRequired, got %v", err)
	}
}

func TestResolveMappingTypesUnionMergesProperties(t *testing.T) {
	im := IndexMetadata{
		MappingTypes: map[string]json.RawMessage{
			"type_a": json.RawMessage(`{"properties":{"f1":{"type":"keyword"}}}`),
			"type_b": json.RawMessage(`{"properties":{"f2":{"type":"keyword"}}}`),
		},
	}
	resolved, err := ResolveMappingTypes(im, MultiTypeUnion)
	if err != nil {
		t.Fatalf("ResolveMappingTypes: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("expected union to produce exactly one mapping, got %d", len(resolved))
	}
	var merged struct {
		Properties map[string]interface{} `json:"properties"`
	}
	if err := cmn.Unmarshal(resolved[0].Mappings, &merged); err != nil {
		t.Fatalf("decode merged mapping: %v", err)
	}
	if _, ok := merged.Properties["f1"]; !ok {
		t.Fatalf("expected f1 present in merged mapping, got %v", merged.Properties)
	}
	if _, ok := merged.Properties["f2"]; !ok {
		t.Fatalf("expected f2 present in merged mapping, got %v", merged.Properties)
	}
}

func TestResolveMappingTypesSplitProducesOnePerType(t *testing.T) {
	im := IndexMetadata{
		MappingTypes: map[string]json.RawMessage{
			"type_a": json.RawMessage(`{"properties":{}}`),
			"type_b": json.RawMessage(`{"properties":{}}`),
		},
	}
	resolved, err := ResolveMappingTypes(im, MultiTypeSplit)
	if err != nil {
		t.Fatalf("ResolveMappingTypes: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected two resolved mappings for split, got %d", len(resolved))
	}
	if resolved[0].IndexNameSuffix == "" || resolved[1].IndexNameSuffix == "" {
		t.Fatalf("expected non-empty suffixes for split output, got %+v", resolved)
	}
}
