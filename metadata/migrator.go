package metadata

import (
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/version"
)

// Report is the full result of one Migrate call: per-item outcomes in
// Ordering's sequence, regardless of whether the run actually wrote
// anything (SIMULATE mode populates the same shape). Aliases read from an
// index's own metadata are migrated and recorded right after that index,
// in the index stage; only global aliases wait for the alias stage.
type Report struct {
	Outcomes []Outcome
	Failed   int
}

// Migrator drives the ordered migration of §4.5: read from Source,
// transform for the target version, and either create on Target or, in
// SIMULATE mode, validate without writing.
type Migrator struct {
	Source        Source
	Target        *Target
	SourceVersion version.Version
	TargetVersion version.Version
	MinReplicas   int
	MultiTypeMode MultiTypeMode
	Simulate      bool

	// IndexNames lists the indices to migrate; the global metadata (legacy
	// templates, component templates, index templates) is always read from
	// Source in full.
	IndexNames []string

	// IndexTemplateAllowlist and ComponentTemplateAllowlist, when non-nil,
	// restrict migration to templates named in the list (spec §6's
	// --index-template-allowlist / --component-template-allowlist). Legacy
	// templates and aliases are never filtered; nil means "migrate all".
	IndexTemplateAllowlist     []string
	ComponentTemplateAllowlist []string
}

func filterByName(items []Item, allowlist []string) []Item {
	if allowlist == nil {
		return items
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, n := range allowlist {
		allowed[n] = true
	}
	var out []Item
	for _, item := range items {
		if allowed[item.Name] {
			out = append(out, item)
		}
	}
	return out
}

// Migrate runs every Kind in Ordering, recording one Outcome per item. A
// single item's failure does not stop the run; it is recorded and
// migration continues, matching the per-shard independence §4.3's
// coordinator already establishes elsewhere in this system.
func (m *Migrator) Migrate(ctx context.Context) (Report, error) {
	global, err := m.Source.ReadGlobalMetadata(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "read global metadata")
	}

	var report Report
	for _, kind := range Ordering {
		switch kind {
		case KindLegacyTemplate:
			m.migrateItems(ctx, global.LegacyTemplates, &report)
		case KindComponentTemplate:
			m.migrateItems(ctx, filterByName(global.ComponentTemplates, m.ComponentTemplateAllowlist), &report)
		case KindIndexTemplate:
			m.migrateItems(ctx, filterByName(global.IndexTemplates, m.IndexTemplateAllowlist), &report)
		case KindIndex:
			m.migrateIndices(ctx, &report)
		case KindAlias:
			m.migrateItems(ctx, global.Aliases, &report)
		}
	}
	return report, nil
}

func (m *Migrator) migrateItems(ctx context.Context, items []Item, report *Report) {
	for _, item := range items {
		report.Outcomes = append(report.Outcomes, m.migrateOne(ctx, item))
		if !report.Outcomes[len(report.Outcomes)-1].Successful {
			report.Failed++
		}
	}
}

func (m *Migrator) migrateIndices(ctx context.Context, report *Report) {
	for _, indexName := range m.IndexNames {
		im, err := m.Source.ReadIndexMetadata(ctx, indexName)
		if err != nil {
			report.Outcomes = append(report.Outcomes, Outcome{Name: indexName, Kind: KindIndex, Failure: errors.Wrap(err, "read index metadata").Error()})
			report.Failed++
			continue
		}
		resolved, err := ResolveMappingTypes(im, m.MultiTypeMode)
		if err != nil {
			report.Outcomes = append(report.Outcomes, Outcome{Name: indexName, Kind: KindIndex, Failure: err.Error()})
			report.Failed++
			continue
		}
		for _, r := range resolved {
			name := indexName + r.IndexNameSuffix
			body, err := cmn.Marshal(struct {
				Settings interface{} `json:"settings,omitempty"`
				Mappings interface{} `json:"mappings,omitempty"`
			}{Settings: im.Settings, Mappings: r.Mappings})
			if err != nil {
				report.Outcomes = append(report.Outcomes, Outcome{Name: name, Kind: KindIndex, Failure: err.Error()})
				report.Failed++
				continue
			}
			item := Item{Kind: KindIndex, Name: name, TargetPath: "/" + name, Body: body}
			report.Outcomes = append(report.Outcomes, m.migrateOne(ctx, item))
			if !report.Outcomes[len(report.Outcomes)-1].Successful {
				report.Failed++
			}
		}
		for _, alias := range im.Aliases {
			report.Outcomes = append(report.Outcomes, m.migrateOne(ctx, alias))
			if !report.Outcomes[len(report.Outcomes)-1].Successful {
				report.Failed++
			}
		}
	}
}

func (m *Migrator) migrateOne(ctx context.Context, item Item) Outcome {
	transformed, err := Transform(item, m.SourceVersion, m.TargetVersion, m.MinReplicas)
	if err != nil {
		glog.Warningf("metadata: transform %s %s failed: %v", item.Kind, item.Name, err)
		return Outcome{Name: item.Name, Kind: item.Kind, Failure: err.Error()}
	}
	if m.Simulate {
		glog.V(3).Infof("metadata: simulate create %s %s", transformed.Kind, transformed.Name)
		return Outcome{Name: transformed.Name, Kind: transformed.Kind, Successful: true}
	}
	if err := m.Target.CreateOnTarget(ctx, transformed); err != nil {
		glog.Warningf("metadata: create %s %s failed: %v", transformed.Kind, transformed.Name, err)
		return Outcome{Name: transformed.Name, Kind: transformed.Kind, Failure: err.Error()}
	}
	return Outcome{Name: transformed.Name, Kind: transformed.Kind, Successful: true}
}
