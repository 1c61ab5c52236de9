package license

import (
	"bytes"
	"encoding/json"
	"time"
)

const canonicalTimeLayout = "2006-01-02T15:04:05"

// CanonicalInstant truncates t to whole seconds in UTC and renders it as
// ISO-8601 without a timezone suffix, matching the signing preimage format.
func CanonicalInstant(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(canonicalTimeLayout)
}

// CanonicalBytes produces the deterministic signing preimage for a license:
// JSON, UTF-8, object keys sorted at every level, minimal separators, no
// trailing newline, and the signature field omitted entirely.
//
// Go's map[string]interface{} is already marshaled with lexicographically
// sorted keys, so building an intermediate map and letting encoding/json
// walk it produces the required key ordering without a hand-rolled sorter.
// encoding/json's default compact output already uses "," and ":" with no
// surrounding whitespace. The only adjustment needed is disabling HTML
// escaping, since the default escapes `<`, `>`, and `&`.
func CanonicalBytes(lic *License) ([]byte, error) {
	obj := canonicalObject(lic)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func canonicalObject(lic *License) map[string]interface{} {
	metadata := lic.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	features := make([]interface{}, len(lic.Features))
	for i, f := range lic.Features {
		features[i] = canonicalFeature(f)
	}

	usageLimits := make([]interface{}, len(lic.UsageLimits))
	for i, u := range lic.UsageLimits {
		usageLimits[i] = canonicalUsageLimit(u)
	}

	return map[string]interface{}{
		"license_id":   lic.LicenseID,
		"customer_id":  lic.CustomerID,
		"not_before":   CanonicalInstant(lic.NotBefore),
		"not_after":    CanonicalInstant(lic.NotAfter),
		"features":     features,
		"usage_limits": usageLimits,
		"metadata":     metadata,
	}
}

func canonicalFeature(f Feature) map[string]interface{} {
	metadata := f.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	m := map[string]interface{}{
		"feature_id":   f.FeatureID,
		"name":         f.Name,
		"feature_type": string(f.FeatureType),
		"enabled":      f.Enabled,
		"metadata":     metadata,
	}

	switch f.FeatureType {
	case FeatureTypeAPI:
		m["method"] = f.Method
		m["path"] = f.Path
		if f.RateLimit != nil {
			m["rate_limit"] = *f.RateLimit
		}
	case FeatureTypeService:
		m["service_name"] = f.ServiceName
		m["version"] = f.Version
		endpoints := f.Endpoints
		if endpoints == nil {
			endpoints = []string{}
		}
		m["endpoints"] = endpoints
	case FeatureTypeUI:
		m["component_id"] = f.ComponentID
		m["component_type"] = f.ComponentType
		m["visibility"] = f.Visibility
	case FeatureTypeButton:
		m["button_id"] = f.ButtonID
		m["action_type"] = f.ActionType
	}

	return m
}

func canonicalUsageLimit(u UsageLimit) map[string]interface{} {
	return map[string]interface{}{
		"metric_type":   u.MetricType,
		"max_value":     u.MaxValue,
		"current_value": u.CurrentValue,
	}
}
