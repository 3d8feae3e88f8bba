// Package metadata implements the metadata migrator of §4.5: reading
// templates, settings, mappings, and aliases from a source snapshot or
// live cluster, transforming them for the target version, and idempotently
// creating them on the target.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package metadata

import (
	"context"
	"encoding/json"
)

// Kind discriminates the five item kinds §4.5 migrates, in the order its
// Ordering rule requires them created.
type Kind string

const (
	KindLegacyTemplate    Kind = "legacy_template"
	KindComponentTemplate Kind = "component_template"
	KindIndexTemplate     Kind = "index_template"
	KindIndex             Kind = "index"
	KindAlias             Kind = "alias"
)

// Ordering is the fixed creation sequence §4.5 mandates: legacy templates
// -> component templates -> index templates -> indices -> aliases.
// Within one kind, order is irrelevant.
var Ordering = []Kind{KindLegacyTemplate, KindComponentTemplate, KindIndexTemplate, KindIndex, KindAlias}

// MultiTypeMode resolves an ES ≤ 6.x index with multiple mapping types
// into the single-type shape ES 7.x/OS requires.
type MultiTypeMode string

const (
	MultiTypeUnion   MultiTypeMode = "union"
	MultiTypeSplit   MultiTypeMode = "split"
	MultiTypePickOne MultiTypeMode = "pick-one"
)

// Item is one metadata object flowing through the migrator: a template,
// an index's settings+mappings, or an alias definition.
type Item struct {
	Kind Kind
	Name string
	// TargetPath is the path createOnTarget PUTs/GETs against, e.g.
	// "/_index_template/my-template" or "/my-index".
	TargetPath string
	Body       json.RawMessage
}

// Outcome is the per-item result §4.5 requires every migration attempt to
// record.
type Outcome struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	Successful bool   `json:"successful"`
	Failure    string `json:"failure,omitempty"`
}

// GlobalMetadata is the result of readGlobalMetadata: everything not
// scoped to one index.
type GlobalMetadata struct {
	LegacyTemplates   []Item
	ComponentTemplates []Item
	IndexTemplates    []Item
	Aliases           []Item
}

// IndexMetadata is the result of readIndexMetadata: one index's settings,
// mappings, and aliases.
type IndexMetadata struct {
	Settings json.RawMessage
	Mappings json.RawMessage
	Aliases  []Item
	// MappingTypes holds the raw per-type mapping bodies when the source
	// is ES ≤ 6.x and the index has more than one mapping type; empty
	// otherwise. transform requires MultiTypeMode to resolve this.
	MappingTypes map[string]json.RawMessage
}

// Source reads metadata from either a snapshot (§4.1) or a live cluster
// (HTTP), per §4.5's "Source may be a snapshot or a live cluster."
type Source interface {
	ReadGlobalMetadata(ctx context.Context) (GlobalMetadata, error)
	ReadIndexMetadata(ctx context.Context, indexName string) (IndexMetadata, error)
}
