package pulse

import "sort"

// Core consent features.
const (
	FeatureSessions    = "sessions"
	FeatureEvents      = "events"
	FeatureViews       = "views"
	FeatureCrashes     = "crashes"
	FeatureAttribution = "attribution"
	FeatureUsers       = "users"
	FeatureStarRating  = "star-rating"
	FeatureLocation    = "location"
)

// Features lists the core features consent can be required for.
var Features = []string{
	FeatureSessions,
	FeatureEvents,
	FeatureViews,
	FeatureCrashes,
	FeatureAttribution,
	FeatureUsers,
	FeatureStarRating,
	FeatureLocation,
}

type consentEntry struct {
	optin    bool
	features []string // set for groups only
}

// ConsentGate tracks which features the user opted into and stages changes
// for server sync. Not safe for concurrent use; its owner serializes access.
type ConsentGate struct {
	required bool
	entries  map[string]*consentEntry
	staged   map[string]bool
	logger   LoggerAdapter
}

func newConsentGate(required bool, logger LoggerAdapter) *ConsentGate {
	g := &ConsentGate{
		required: required,
		entries:  make(map[string]*consentEntry, len(Features)),
		staged:   make(map[string]bool),
		logger:   logger,
	}
	for _, f := range Features {
		g.entries[f] = &consentEntry{}
	}
	return g
}

// GroupFeatures registers named groups of features. Reserved names and
// empty lists are logged and skipped.
func (g *ConsentGate) GroupFeatures(groups map[string][]string) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		features := groups[name]
		if _, ok := g.entries[name]; ok {
			g.logger.Warn("Feature name %s is already reserved", name)
			continue
		}
		if len(features) == 0 {
			g.logger.Warn("Incorrect feature list for %s", name)
			continue
		}
		g.entries[name] = &consentEntry{features: append([]string(nil), features...)}
	}
}

// Check reports whether feature may be tracked. Always true when consent is
// not required.
func (g *ConsentGate) Check(feature string) bool {
	if !g.required {
		return true
	}
	entry, ok := g.entries[feature]
	if !ok {
		g.logger.Warn("No feature available for %s", feature)
		return false
	}
	return entry.optin
}

// Add opts into features, resolving groups. It returns the core features
// whose state changed.
func (g *ConsentGate) Add(features ...string) []string {
	return g.set(true, features, map[string]bool{})
}

// Remove opts out of features, resolving groups. It returns the core
// features whose state changed.
func (g *ConsentGate) Remove(features ...string) []string {
	return g.set(false, features, map[string]bool{})
}

func (g *ConsentGate) set(optin bool, features []string, seen map[string]bool) []string {
	var changed []string
	for _, feature := range features {
		if seen[feature] {
			continue
		}
		seen[feature] = true

		entry, ok := g.entries[feature]
		if !ok {
			g.logger.Warn("No feature available for %s", feature)
			continue
		}
		if entry.features != nil {
			entry.optin = optin
			changed = append(changed, g.set(optin, entry.features, seen)...)
			continue
		}
		if entry.optin == optin {
			continue
		}
		entry.optin = optin
		g.staged[feature] = optin
		changed = append(changed, feature)
	}
	return changed
}

// HasStaged reports whether changes are waiting for sync.
func (g *ConsentGate) HasStaged() bool {
	return len(g.staged) > 0
}

// TakeStaged returns and clears the staged changes, or nil if none.
func (g *ConsentGate) TakeStaged() map[string]bool {
	if len(g.staged) == 0 {
		return nil
	}
	staged := g.staged
	g.staged = make(map[string]bool)
	return staged
}
