package feature

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// OrderFeatures sorts features respecting hard dependencies (DependsOn) and
// soft dependencies (InstallsAfter). Features listed in overrideOrder are
// then moved to the front in that order; hard dependencies are not
// re-checked for them, so an override can place a feature ahead of one it
// depends on.
// logger may be nil, in which case dropped soft-edge warnings are discarded.
func OrderFeatures(features []*FeatureSet, overrideOrder []string, logger *slog.Logger) ([]*FeatureSet, error) {
	if len(features) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// Build two indexes: normalized ID -> config ID for dependency matching,
	// and config ID -> FeatureSet for direct lookups.
	lookup := make(map[string]string, len(features))
	byID := make(map[string]*FeatureSet, len(features))
	g := NewGraph[*FeatureSet]()
	for _, f := range features {
		lookup[normalizeID(f.ConfigID)] = f.ConfigID
		byID[f.ConfigID] = f
		g.AddNode(f.ConfigID, f)
	}

	if err := addHardDependencies(g, features, lookup); err != nil {
		return nil, err
	}
	addSoftDependencies(g, features, lookup, byID, logger)

	sorted, err := g.Sort()
	if err != nil {
		return nil, fmt.Errorf("ordering features: %w", err)
	}

	if len(overrideOrder) > 0 {
		sorted = applyOverrideOrder(sorted, overrideOrder)
	}

	return sorted, nil
}

// addHardDependencies adds edges for DependsOn entries. Hard dependencies
// must exist in the feature set.
func addHardDependencies(g *Graph[*FeatureSet], features []*FeatureSet, lookup map[string]string) error {
	for _, f := range features {
		for depID := range f.Config.DependsOn {
			targetID, ok := lookup[normalizeID(depID)]
			if !ok {
				return fmt.Errorf("feature %q has hard dependency on %q which is not in the feature set", f.ConfigID, depID)
			}
			if err := g.AddEdge(targetID, f.ConfigID); err != nil {
				return fmt.Errorf("adding dependency %q -> %q: %w", targetID, f.ConfigID, err)
			}
		}
	}
	return nil
}

// addSoftDependencies adds edges for InstallsAfter entries. A soft
// dependency is dropped with a warning when its target is not in the
// feature set, or when honoring it would conflict with a hard edge in the
// reverse direction.
func addSoftDependencies(g *Graph[*FeatureSet], features []*FeatureSet, lookup map[string]string, byID map[string]*FeatureSet, logger *slog.Logger) {
	for _, f := range features {
		for _, afterID := range f.Config.InstallsAfter {
			targetID, ok := lookup[normalizeID(afterID)]
			if !ok {
				logger.Warn("dropping installsAfter: target not in feature set",
					"feature", f.ConfigID, "installsAfter", afterID)
				continue
			}
			if targetID == f.ConfigID {
				continue
			}
			// A hard dependency in the reverse direction (target depends on f)
			// would make this soft edge create a cycle; drop it.
			if hasHardDep(byID[targetID], f.ConfigID, lookup) {
				logger.Warn("dropping installsAfter: conflicts with a hard dependency",
					"feature", f.ConfigID, "installsAfter", targetID)
				continue
			}
			_ = g.AddSoftEdge(targetID, f.ConfigID)
		}
	}
}

// hasHardDep returns true if the given feature has a hard dependency
// (DependsOn) on depID.
func hasHardDep(f *FeatureSet, depID string, lookup map[string]string) bool {
	if f == nil {
		return false
	}
	for depKey := range f.Config.DependsOn {
		if targetID, ok := lookup[normalizeID(depKey)]; ok && targetID == depID {
			return true
		}
	}
	return false
}

// applyOverrideOrder moves features matching overrideOrder IDs to the front,
// preserving their relative order. Features not in overrideOrder follow in
// their original sorted order.
func applyOverrideOrder(features []*FeatureSet, overrideOrder []string) []*FeatureSet {
	indexed := make(map[string]*FeatureSet, len(features))
	for _, f := range features {
		indexed[f.ConfigID] = f
	}

	overridden := make(map[string]bool, len(overrideOrder))
	var front []*FeatureSet
	for _, id := range overrideOrder {
		if f, ok := indexed[id]; ok {
			front = append(front, f)
			overridden[id] = true
		}
	}

	var rest []*FeatureSet
	for _, f := range features {
		if !overridden[f.ConfigID] {
			rest = append(rest, f)
		}
	}

	return append(front, rest...)
}

// normalizeID strips version tags (@digest or :tag) from OCI feature
// references. Local paths (./ or ../) and HTTP URLs are returned unchanged.
func normalizeID(id string) string {
	// Local paths: keep as-is.
	if strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") {
		return id
	}

	// HTTP(S) URLs: keep as-is.
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return id
	}

	// Strip @digest.
	if idx := strings.Index(id, "@"); idx >= 0 {
		return id[:idx]
	}

	// Strip :tag.
	if idx := strings.LastIndex(id, ":"); idx >= 0 {
		// Make sure we don't strip the port from a registry URL like
		// localhost:5000/feature. Only strip when the last ':' comes
		// after the last '/'.
		lastSlash := strings.LastIndex(id, "/")
		if idx > lastSlash {
			return id[:idx]
		}
	}

	return id
}
