package license

// The matcher is pure data traversal: exact-equality, case-sensitive,
// no wildcards, no path-prefix matching. Every query returns the first
// matching entry in list order and a boolean "else false" default —
// dispatch on FeatureType happens through a lookup table (see matchersByType
// below), never a type switch over behavior, per the discriminator note.

type featureMatcher func(f Feature, query interface{}) bool

var matchersByType = map[FeatureType]featureMatcher{
	FeatureTypeAPI: func(f Feature, query interface{}) bool {
		q := query.(apiQuery)
		return f.Method == q.method && f.Path == q.path
	},
	FeatureTypeService: func(f Feature, query interface{}) bool {
		q := query.(serviceQuery)
		if f.ServiceName != q.serviceName {
			return false
		}
		for _, e := range f.Endpoints {
			if e == q.endpoint {
				return true
			}
		}
		return false
	},
	FeatureTypeUI: func(f Feature, query interface{}) bool {
		q := query.(uiQuery)
		return f.ComponentID == q.componentID
	},
	FeatureTypeButton: func(f Feature, query interface{}) bool {
		q := query.(buttonQuery)
		return f.ButtonID == q.buttonID
	},
}

type apiQuery struct{ method, path string }
type serviceQuery struct{ serviceName, endpoint string }
type uiQuery struct{ componentID string }
type buttonQuery struct{ buttonID string }

func firstMatch(features []Feature, featureType FeatureType, query interface{}) (Feature, bool) {
	match := matchersByType[featureType]
	for _, f := range features {
		if f.FeatureType != featureType {
			continue
		}
		if match(f, query) {
			return f, true
		}
	}
	return Feature{}, false
}

// CheckAPI returns the enabled flag of the first API-variant feature whose
// (method, path) equals the query; else false.
func (l *License) CheckAPI(method, path string) bool {
	f, ok := firstMatch(l.Features, FeatureTypeAPI, apiQuery{method, path})
	return ok && f.Enabled
}

// CheckService returns the enabled flag of the first Service-variant feature
// whose service_name equals the query and whose endpoints list contains
// endpoint; else false.
func (l *License) CheckService(serviceName, endpoint string) bool {
	f, ok := firstMatch(l.Features, FeatureTypeService, serviceQuery{serviceName, endpoint})
	return ok && f.Enabled
}

// CheckUI returns the visibility flag (not enabled) of the first UI-variant
// feature whose component_id equals the query; else false.
func (l *License) CheckUI(componentID string) bool {
	f, ok := firstMatch(l.Features, FeatureTypeUI, uiQuery{componentID})
	return ok && f.Visibility
}

// CheckButton returns the enabled flag of the first Button-variant feature
// whose button_id equals the query; else false.
func (l *License) CheckButton(buttonID string) bool {
	f, ok := firstMatch(l.Features, FeatureTypeButton, buttonQuery{buttonID})
	return ok && f.Enabled
}

// CheckFeature returns the enabled flag of the first feature matching both
// feature_id and type discriminator; else false.
func (l *License) CheckFeature(featureID string, featureType FeatureType) bool {
	for _, f := range l.Features {
		if f.FeatureID == featureID && f.FeatureType == featureType {
			return f.Enabled
		}
	}
	return false
}

// CheckUsageLimit finds the first usage limit matching metric_type and
// returns true iff current_value + delta <= max_value. If no limit is
// declared for that metric, returns true (unlimited).
func (l *License) CheckUsageLimit(metricType string, delta int64) bool {
	for _, u := range l.UsageLimits {
		if u.MetricType == metricType {
			return u.CurrentValue+delta <= u.MaxValue
		}
	}
	return true
}
