package license

import (
	"testing"
	"time"
)

func TestIssuer_IssueProducesVerifiableSignature(t *testing.T) {
	_, _, priv := generateTestKeyPair(t, 2048)
	iss := NewIssuer(priv)

	lic := License{
		LicenseID:  "lic-001",
		CustomerID: "cust-001",
		NotBefore:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:   time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		Features: []Feature{
			{FeatureID: "f1", FeatureType: FeatureTypeAPI, Enabled: true, Method: "POST", Path: "/api/v1/users"},
		},
		UsageLimits: []UsageLimit{
			{MetricType: "nodes", MaxValue: 10, CurrentValue: 0},
		},
	}

	signed, err := iss.Issue(lic)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !signed.IsSigned() {
		t.Fatal("Issue() returned a license with no signature")
	}

	canonical, err := CanonicalBytes(&signed)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	if !Verify(canonical, signed.Signature, &priv.PublicKey) {
		t.Fatal("signature produced by Issue() did not verify against the canonical bytes")
	}
}

func TestNewLicenseID_ProducesDistinctHyphenatedValues(t *testing.T) {
	a := NewLicenseID()
	b := NewLicenseID()
	if a == b {
		t.Fatal("NewLicenseID() produced the same value twice")
	}
	if len(a) != len("xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx") {
		t.Fatalf("NewLicenseID() = %q, want canonical hyphenated hex form", a)
	}
}

func TestIssuer_IgnoresInputSignature(t *testing.T) {
	_, _, priv := generateTestKeyPair(t, 2048)
	iss := NewIssuer(priv)

	lic := License{
		LicenseID: "lic-001",
		Signature: "pre-existing-garbage",
	}

	signed, err := iss.Issue(lic)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if signed.Signature == "pre-existing-garbage" {
		t.Fatal("Issue() must compute a fresh signature, not pass through the input value")
	}

	canonical, err := CanonicalBytes(&signed)
	if err != nil {
		t.Fatalf("CanonicalBytes() error = %v", err)
	}
	if !Verify(canonical, signed.Signature, &priv.PublicKey) {
		t.Fatal("signature produced by Issue() did not verify")
	}
}
