// Package license defines the license data model, its canonical
// serialization, the entitlement matcher, the issuer, and engine
// configuration loading.
package license

import "time"

// FeatureType discriminates the four entitlement variants. The matcher
// dispatches on this value through a lookup table, never a type switch over
// behavior — the variants are pure data.
type FeatureType string

const (
	FeatureTypeAPI     FeatureType = "api"
	FeatureTypeService FeatureType = "service"
	FeatureTypeUI      FeatureType = "ui"
	FeatureTypeButton  FeatureType = "button"
)

// Feature is a single entitlement record. It carries every variant's fields;
// only the fields owned by FeatureType are meaningful for a given instance.
type Feature struct {
	FeatureID   string            `json:"feature_id"`
	Name        string            `json:"name"`
	FeatureType FeatureType       `json:"feature_type"`
	Enabled     bool              `json:"enabled"`
	Metadata    map[string]string `json:"metadata"`

	// API variant: matching key (Method, Path).
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	RateLimit *int   `json:"rate_limit,omitempty"` // advisory, never read by the matcher

	// Service variant: matching key (ServiceName, endpoint ∈ Endpoints).
	ServiceName string   `json:"service_name,omitempty"`
	Version     string   `json:"version,omitempty"`
	Endpoints   []string `json:"endpoints,omitempty"`

	// UI variant: matching key ComponentID; answer reads Visibility, not Enabled.
	ComponentID   string `json:"component_id,omitempty"`
	ComponentType string `json:"component_type,omitempty"`
	Visibility    bool   `json:"visibility,omitempty"`

	// Button variant: matching key ButtonID; answer reads Enabled.
	ButtonID   string `json:"button_id,omitempty"`
	ActionType string `json:"action_type,omitempty"`
}

// UsageLimit is a named integer quota. Duplicate MetricType values across a
// license's UsageLimits are not defined by the upstream format; this engine
// resolves duplicates to the first match, per spec.
type UsageLimit struct {
	MetricType   string `json:"metric_type"`
	MaxValue     int64  `json:"max_value"`
	CurrentValue int64  `json:"current_value"`
}

// License is the root entity verified and queried by this engine.
//
// A License with an empty Signature is unsigned and invalid for any query.
// Once signed, a License is immutable — any field mutation invalidates the
// signature and therefore the license.
type License struct {
	LicenseID   string            `json:"license_id"`
	CustomerID  string            `json:"customer_id"`
	NotBefore   time.Time         `json:"not_before"`
	NotAfter    time.Time         `json:"not_after"`
	Features    []Feature         `json:"features"`
	UsageLimits []UsageLimit      `json:"usage_limits"`
	Metadata    map[string]string `json:"metadata"`
	Signature   string            `json:"signature,omitempty"`
}

// IsSigned reports whether the license carries a (possibly invalid)
// signature. It does not verify the signature.
func (l *License) IsSigned() bool {
	return l.Signature != ""
}

// WindowValid reports invariant 1: not_before <= not_after after
// second-truncation. A license that fails this check is permanently invalid
// regardless of trusted_now.
func (l *License) WindowValid() bool {
	return !l.NotBefore.Truncate(time.Second).After(l.NotAfter.Truncate(time.Second))
}

// WithinWindow reports whether instant t falls within [not_before, not_after]
// at second granularity.
func (l *License) WithinWindow(t time.Time) bool {
	sec := t.Truncate(time.Second)
	nb := l.NotBefore.Truncate(time.Second)
	na := l.NotAfter.Truncate(time.Second)
	return !sec.Before(nb) && !sec.After(na)
}
