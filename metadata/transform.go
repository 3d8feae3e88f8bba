package metadata

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/version"
)

// transformStep is one version-aware rewrite applied to an Item before
// it is posted to the target. Dispatch through transformChain is
// table-driven, not a class hierarchy per source/target version pair
// (spec §9's redesign note).
type transformStep func(item Item, source, target version.Version, minReplicas int) (Item, error)

var transformChain = []transformStep{
	removeDeprecatedSettings,
	enforceMinReplicas,
}

// Transform applies the full chain of version-specific transformations to
// item, per §4.5's transform(item, sourceVersion, targetVersion,
// minReplicas).
func Transform(item Item, source, target version.Version, minReplicas int) (Item, error) {
	out := item
	for _, step := range transformChain {
		var err error
		out, err = step(out, source, target, minReplicas)
		if err != nil {
			return Item{}, err
		}
	}
	return out, nil
}

// deprecatedIndexSettings lists index.* settings ES 6.x accepts that 7.x
// and OpenSearch reject outright.
var deprecatedIndexSettings = []string{
	"index.mapper.dynamic",
	"index.translog.flush_threshold_size",
	"index.shard.check_on_startup",
}

func removeDeprecatedSettings(item Item, source, target version.Version, _ int) (Item, error) {
	if item.Kind != KindIndex || !source.IsES() || source.Major > 6 {
		return item, nil
	}
	var doc map[string]json.RawMessage
	if err := cmn.Unmarshal(item.Body, &doc); err != nil {
		return item, cmn.WrapError(cmn.KindInvalidResponse, err, "decode index body for %s", item.Name)
	}
	settingsRaw, ok := doc["settings"]
	if !ok {
		return item, nil
	}
	var settings map[string]json.RawMessage
	if err := cmn.Unmarshal(settingsRaw, &settings); err != nil {
		return item, cmn.WrapError(cmn.KindInvalidResponse, err, "decode settings for %s", item.Name)
	}
	var index map[string]json.RawMessage
	indexRaw, hasIndex := settings["index"]
	if hasIndex {
		if err := cmn.Unmarshal(indexRaw, &index); err != nil {
			return item, cmn.WrapError(cmn.KindInvalidResponse, err, "decode index settings for %s", item.Name)
		}
	}
	changed := false
	for _, key := range deprecatedIndexSettings {
		// Settings may appear dotted at top level or nested under "index".
		if _, present := settings[key]; present {
			delete(settings, key)
			changed = true
		}
		shortKey := key[len("index."):]
		if index != nil {
			if _, present := index[shortKey]; present {
				delete(index, shortKey)
				changed = true
			}
		}
	}
	if !changed {
		return item, nil
	}
	if hasIndex {
		reencoded, err := cmn.Marshal(index)
		if err != nil {
			return item, err
		}
		settings["index"] = reencoded
	}
	newSettings, err := cmn.Marshal(settings)
	if err != nil {
		return item, err
	}
	doc["settings"] = newSettings
	newBody, err := cmn.Marshal(doc)
	if err != nil {
		return item, err
	}
	item.Body = newBody
	return item, nil
}

func enforceMinReplicas(item Item, _, _ version.Version, minReplicas int) (Item, error) {
	if item.Kind != KindIndex || minReplicas <= 0 {
		return item, nil
	}
	var doc map[string]json.RawMessage
	if err := cmn.Unmarshal(item.Body, &doc); err != nil {
		return item, cmn.WrapError(cmn.KindInvalidResponse, err, "decode index body for %s", item.Name)
	}
	var settings map[string]json.RawMessage
	if raw, ok := doc["settings"]; ok {
		if err := cmn.Unmarshal(raw, &settings); err != nil {
			return item, cmn.WrapError(cmn.KindInvalidResponse, err, "decode settings for %s", item.Name)
		}
	} else {
		settings = map[string]json.RawMessage{}
	}
	var index map[string]json.RawMessage
	if raw, ok := settings["index"]; ok {
		if err := cmn.Unmarshal(raw, &index); err != nil {
			return item, cmn.WrapError(cmn.KindInvalidResponse, err, "decode index settings for %s", item.Name)
		}
	} else {
		index = map[string]json.RawMessage{}
	}
	current := 0
	if raw, ok := index["number_of_replicas"]; ok {
		var asInt int
		if err := cmn.Unmarshal(raw, &asInt); err == nil {
			current = asInt
		} else {
			var asStr string
			if err := cmn.Unmarshal(raw, &asStr); err == nil {
				if n, err := strconv.Atoi(asStr); err == nil {
					current = n
				}
			}
		}
	}
	if current >= minReplicas {
		return item, nil
	}
	raw, err := cmn.Marshal(minReplicas)
	if err != nil {
		return item, err
	}
	index["number_of_replicas"] = raw
	reencodedIndex, err := cmn.Marshal(index)
	if err != nil {
		return item, err
	}
	settings["index"] = reencodedIndex
	reencodedSettings, err := cmn.Marshal(settings)
	if err != nil {
		return item, err
	}
	doc["settings"] = reencodedSettings
	newBody, err := cmn.Marshal(doc)
	if err != nil {
		return item, err
	}
	item.Body = newBody
	return item, nil
}

// ResolvedMapping is one output index's mapping after multi-type
// resolution: a single element for "union"/"pick-one", one per source
// type for "split".
type ResolvedMapping struct {
	IndexNameSuffix string
	Mappings        json.RawMessage
}

// ResolveMappingTypes implements §4.5's multi-type policy: when the
// source has multiple mapping types, mode must be set or the item fails
// deterministically with MultiTypeResolutionRequired rather than being
// silently merged.
func ResolveMappingTypes(im IndexMetadata, mode MultiTypeMode) ([]ResolvedMapping, error) {
	if len(im.MappingTypes) == 0 {
		return []ResolvedMapping{{Mappings: im.Mappings}}, nil
	}
	if len(im.MappingTypes) == 1 {
		for _, body := range im.MappingTypes {
			return []ResolvedMapping{{Mappings: body}}, nil
		}
	}
	if mode == "" {
		return nil, cmn.NewError(cmn.KindMultiTypeResolutionRequired, "%d mapping types present, an explicit resolution mode is required", len(im.MappingTypes))
	}

	names := make([]string, 0, len(im.MappingTypes))
	for name := range im.MappingTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	switch mode {
	case MultiTypeSplit:
		out := make([]ResolvedMapping, 0, len(names))
		for _, name := range names {
			out = append(out, ResolvedMapping{IndexNameSuffix: "-" + name, Mappings: im.MappingTypes[name]})
		}
		return out, nil
	case MultiTypePickOne:
		return []ResolvedMapping{{Mappings: im.MappingTypes[names[0]]}}, nil
	case MultiTypeUnion:
		merged := map[string]json.RawMessage{}
		for _, name := range names {
			var typeDoc struct {
				Properties map[string]json.RawMessage `json:"properties"`
			}
			if err := cmn.Unmarshal(im.MappingTypes[name], &typeDoc); err != nil {
				return nil, cmn.WrapError(cmn.KindInvalidResponse, err, "decode mapping type %q", name)
			}
			for prop, body := range typeDoc.Properties {
				merged[prop] = body
			}
		}
		body, err := cmn.Marshal(struct {
			Properties map[string]json.RawMessage `json:"properties"`
		}{Properties: merged})
		if err != nil {
			return nil, err
		}
		return []ResolvedMapping{{Mappings: body}}, nil
	default:
		return nil, cmn.NewError(cmn.KindInvalidParameter, "unknown multi-type resolution mode %q", mode)
	}
}
