package license

import (
	"strings"
	"testing"
	"time"
)

func sampleLicense() *License {
	nb := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	na := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	rate := 100
	return &License{
		LicenseID:  "lic-001",
		CustomerID: "cust-001",
		NotBefore:  nb,
		NotAfter:   na,
		Features: []Feature{
			{
				FeatureID:   "feat-api-1",
				Name:        "Widgets API",
				FeatureType: FeatureTypeAPI,
				Enabled:     true,
				Method:      "GET",
				Path:        "/v1/widgets",
				RateLimit:   &rate,
			},
			{
				FeatureID:   "feat-ui-1",
				Name:        "Dashboard",
				FeatureType: FeatureTypeUI,
				Enabled:     false,
				ComponentID: "dashboard",
				Visibility:  true,
			},
		},
		UsageLimits: []UsageLimit{
			{MetricType: "api_calls", MaxValue: 1000, CurrentValue: 10},
		},
		Metadata: map[string]string{"plan": "pro"},
	}
}

func TestCanonicalInstant_TruncatesToSeconds(t *testing.T) {
	ts := time.Date(2026, 3, 15, 12, 30, 45, 999999999, time.UTC)
	got := CanonicalInstant(ts)
	want := "2026-03-15T12:30:45"
	if got != want {
		t.Fatalf("CanonicalInstant() = %q, want %q", got, want)
	}
}

func TestCanonicalInstant_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2026, 3, 15, 14, 30, 45, 0, loc)
	got := CanonicalInstant(ts)
	want := "2026-03-15T12:30:45"
	if got != want {
		t.Fatalf("CanonicalInstant() = %q, want %q", got, want)
	}
}

func TestCanonicalBytes_OmitsSignature(t *testing.T) {
	lic := sampleLicense()
	lic.Signature = "deadbeef"

	out, err := CanonicalBytes(lic)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	if strings.Contains(string(out), "signature") {
		t.Fatalf("canonical bytes must never contain the signature field, got: %s", out)
	}
	if strings.Contains(string(out), "deadbeef") {
		t.Fatalf("canonical bytes leaked signature value: %s", out)
	}
}

func TestCanonicalBytes_NoTrailingNewline(t *testing.T) {
	out, err := CanonicalBytes(sampleLicense())
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	if len(out) == 0 || out[len(out)-1] == '\n' {
		t.Fatalf("canonical bytes must not end with a newline, got: %q", out)
	}
}

func TestCanonicalBytes_IsDeterministic(t *testing.T) {
	lic := sampleLicense()

	a, err := CanonicalBytes(lic)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	b, err := CanonicalBytes(lic)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("CanonicalBytes() is not deterministic:\n%s\nvs\n%s", a, b)
	}
}

func TestCanonicalBytes_FieldOrderDoesNotAffectOutput(t *testing.T) {
	lic1 := sampleLicense()
	lic2 := &License{
		Metadata:    lic1.Metadata,
		UsageLimits: lic1.UsageLimits,
		Features:    lic1.Features,
		NotAfter:    lic1.NotAfter,
		NotBefore:   lic1.NotBefore,
		CustomerID:  lic1.CustomerID,
		LicenseID:   lic1.LicenseID,
	}

	a, err := CanonicalBytes(lic1)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	b, err := CanonicalBytes(lic2)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("struct field order leaked into canonical output:\n%s\nvs\n%s", a, b)
	}
}

func TestCanonicalBytes_PreservesFeatureOrder(t *testing.T) {
	out, err := CanonicalBytes(sampleLicense())
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	apiIdx := strings.Index(string(out), "feat-api-1")
	uiIdx := strings.Index(string(out), "feat-ui-1")
	if apiIdx == -1 || uiIdx == -1 || apiIdx > uiIdx {
		t.Fatalf("expected feature list order preserved (api before ui), got: %s", out)
	}
}

func TestCanonicalBytes_NilMetadataBecomesEmptyObject(t *testing.T) {
	lic := sampleLicense()
	lic.Metadata = nil

	out, err := CanonicalBytes(lic)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	if !strings.Contains(string(out), `"metadata":{}`) {
		t.Fatalf("expected nil metadata to canonicalize to {}, got: %s", out)
	}
}

func TestCanonicalBytes_DoesNotEscapeHTML(t *testing.T) {
	lic := sampleLicense()
	lic.CustomerID = "A&B <Corp>"

	out, err := CanonicalBytes(lic)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	if !strings.Contains(string(out), "A&B <Corp>") {
		t.Fatalf("expected raw ampersand/angle brackets preserved, got: %s", out)
	}
}

func TestCanonicalBytes_VariantFieldsOnlyAppearForTheirType(t *testing.T) {
	out, err := CanonicalBytes(sampleLicense())
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"method":"GET"`) {
		t.Fatalf("expected api variant fields present: %s", s)
	}
	if !strings.Contains(s, `"component_id":"dashboard"`) {
		t.Fatalf("expected ui variant fields present: %s", s)
	}
	if strings.Count(s, `"method"`) != 1 || strings.Count(s, `"component_id"`) != 1 {
		t.Fatalf("expected each variant's fields only on its own feature: %s", s)
	}
}
