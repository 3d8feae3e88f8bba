package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/repo"
)

// SnapshotSource reads metadata out of a snapshot repository's global and
// per-index metadata blobs (§4.1's meta-<snapshot>.dat / meta-<index>.dat).
type SnapshotSource struct {
	Repo     repo.Repository
	Snapshot string
}

var _ Source = (*SnapshotSource)(nil)

type rawGlobalMeta struct {
	Templates         map[string]json.RawMessage `json:"templates"`
	ComponentTemplate map[string]json.RawMessage `json:"component_template"`
	IndexTemplate     map[string]json.RawMessage `json:"index_template"`
	Aliases           map[string]json.RawMessage `json:"aliases"`
}

func (s *SnapshotSource) ReadGlobalMetadata(ctx context.Context) (GlobalMetadata, error) {
	raw, err := s.Repo.GlobalMetadataBlob(ctx, s.Snapshot)
	if err != nil {
		return GlobalMetadata{}, err
	}
	var g rawGlobalMeta
	if err := cmn.Unmarshal(raw, &g); err != nil {
		return GlobalMetadata{}, cmn.WrapError(cmn.KindInvalidResponse, err, "decode global metadata")
	}
	out := GlobalMetadata{}
	for name, body := range g.Templates {
		out.LegacyTemplates = append(out.LegacyTemplates, Item{Kind: KindLegacyTemplate, Name: name, TargetPath: "/_template/" + name, Body: body})
	}
	for name, body := range g.ComponentTemplate {
		out.ComponentTemplates = append(out.ComponentTemplates, Item{Kind: KindComponentTemplate, Name: name, TargetPath: "/_component_template/" + name, Body: body})
	}
	for name, body := range g.IndexTemplate {
		out.IndexTemplates = append(out.IndexTemplates, Item{Kind: KindIndexTemplate, Name: name, TargetPath: "/_index_template/" + name, Body: body})
	}
	for name, body := range g.Aliases {
		out.Aliases = append(out.Aliases, Item{Kind: KindAlias, Name: name, Body: body})
	}
	return out, nil
}

type rawIndexMeta struct {
	Settings json.RawMessage            `json:"settings"`
	Mappings json.RawMessage            `json:"mappings"`
	Aliases  map[string]json.RawMessage `json:"aliases"`
	// MappingsByType is populated instead of Mappings when the source is
	// ES ≤ 6.x and the index carries more than one mapping type.
	MappingsByType map[string]json.RawMessage `json:"mappings_by_type,omitempty"`
}

func (s *SnapshotSource) ReadIndexMetadata(ctx context.Context, indexName string) (IndexMetadata, error) {
	refs, err := s.Repo.ListIndices(ctx, s.Snapshot)
	if err != nil {
		return IndexMetadata{}, err
	}
	var uuid string
	for _, ref := range refs {
		if ref.Name == indexName {
			uuid = ref.UUID
			break
		}
	}
	if uuid == "" {
		return IndexMetadata{}, cmn.NewError(cmn.KindInvalidParameter, "index %q not found in snapshot %q", indexName, s.Snapshot)
	}
	raw, err := s.Repo.IndexMetadataBlob(ctx, s.Snapshot, uuid)
	if err != nil {
		return IndexMetadata{}, err
	}
	var m rawIndexMeta
	if err := cmn.Unmarshal(raw, &m); err != nil {
		return IndexMetadata{}, cmn.WrapError(cmn.KindInvalidResponse, err, "decode index metadata for %s", indexName)
	}
	out := IndexMetadata{Settings: m.Settings, Mappings: m.Mappings, MappingTypes: m.MappingsByType}
	for name, body := range m.Aliases {
		out.Aliases = append(out.Aliases, Item{
			Kind:       KindAlias,
			Name:       name,
			TargetPath: fmt.Sprintf("/%s/_alias/%s", indexName, name),
			Body:       body,
		})
	}
	return out, nil
}
