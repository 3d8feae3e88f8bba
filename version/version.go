// Package version defines the source/target cluster version model used to
// select repository decoders, codec tables, and metadata transforms.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Flavor distinguishes Elasticsearch from OpenSearch lineages, which
// diverged at ES 7.10 and carry separate version semantics thereafter.
type Flavor int

const (
	FlavorUnknown Flavor = iota
	ES
	OS
)

func (f Flavor) String() string {
	switch f {
	case ES:
		return "ES"
	case OS:
		return "OS"
	default:
		return "unknown"
	}
}

// Version is a total-ordered {flavor, major, minor, patch} tuple.
type Version struct {
	Flavor Flavor
	Major  int
	Minor  int
	Patch  int
}

// Parse accepts strings of the form "es-7.10.2", "os-2.11", "es-6.8".
func Parse(s string) (Version, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("version %q: expected <flavor>-<semver>", s)
	}
	var flavor Flavor
	switch strings.ToLower(parts[0]) {
	case "es":
		flavor = ES
	case "os":
		flavor = OS
	default:
		return Version{}, fmt.Errorf("version %q: unknown flavor %q", s, parts[0])
	}
	nums := strings.Split(parts[1], ".")
	v := Version{Flavor: flavor}
	for i, n := range nums {
		if i > 2 {
			break
		}
		val, err := strconv.Atoi(n)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: bad component %q: %w", s, n, err)
		}
		switch i {
		case 0:
			v.Major = val
		case 1:
			v.Minor = val
		case 2:
			v.Patch = val
		}
	}
	return v, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%s-%d.%d.%d", v.Flavor, v.Major, v.Minor, v.Patch)
}

// tuple returns a value comparable with <, ==, > for total ordering.
func (v Version) tuple() [4]int {
	return [4]int{int(v.Flavor), v.Major, v.Minor, v.Patch}
}

func less(a, b [4]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (v Version) Less(o Version) bool { return less(v.tuple(), o.tuple()) }
func (v Version) Equal(o Version) bool { return v.tuple() == o.tuple() }

func (v Version) IsES() bool { return v.Flavor == ES }
func (v Version) IsOS() bool { return v.Flavor == OS }

// IsES68 matches the last ES 6.x line, the boundary before multi-type removal.
func (v Version) IsES68() bool { return v.IsES() && v.Major == 6 && v.Minor == 8 }

// IsES7X matches any ES 7.x release.
func (v Version) IsES7X() bool { return v.IsES() && v.Major == 7 }

// IsOS1X matches any OpenSearch 1.x release.
func (v Version) IsOS1X() bool { return v.IsOS() && v.Major == 1 }

// IsOS2X matches any OpenSearch 2.x release.
func (v Version) IsOS2X() bool { return v.IsOS() && v.Major == 2 }

// SupportsMultiType is true for versions that permit more than one mapping
// type per index (ES <= 6.x).
func (v Version) SupportsMultiType() bool { return v.IsES() && v.Major <= 6 }
