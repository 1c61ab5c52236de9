package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(ErrCodeLicenseExpired, "license is outside its validity window", SeverityQuery),
			want: "[LIC_3001] license is outside its validity window",
		},
		{
			name: "error with underlying error",
			err:  Wrap(ErrCodeInvalidKey, "key material is malformed or unusable", SeverityFatal, errors.New("asn1: syntax error")),
			want: "[KEY_1001] key material is malformed or unusable: asn1: syntax error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := errors.New("pkcs8: incorrect padding")
	err := Wrap(ErrCodeInvalidKey, "key material is malformed or unusable", SeverityFatal, cause)

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := New(ErrCodeSystemTimeTampered, "system clock disagrees with trusted time sources", SeverityFatal)
	err.WithDetails("boot_floor", "2026-01-01T00:00:00").WithDetails("observed", "2025-06-01T00:00:00")

	if got := err.Details["boot_floor"]; got != "2026-01-01T00:00:00" {
		t.Errorf("Details[boot_floor] = %v, want 2026-01-01T00:00:00", got)
	}
	if got := err.Details["observed"]; got != "2025-06-01T00:00:00" {
		t.Errorf("Details[observed] = %v, want 2025-06-01T00:00:00", got)
	}
}

func TestInvalidKey(t *testing.T) {
	cause := errors.New("x509: malformed public key")
	err := InvalidKey(cause)

	if err.Code != ErrCodeInvalidKey {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidKey)
	}
	if err.Severity != SeverityFatal {
		t.Errorf("Severity = %v, want SeverityFatal", err.Severity)
	}
	if err.Err != cause {
		t.Errorf("Err = %v, want %v", err.Err, cause)
	}
}

func TestSystemTimeTampered(t *testing.T) {
	err := SystemTimeTampered("boot floor ahead of ntp consensus by 4h")

	if err.Code != ErrCodeSystemTimeTampered {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeSystemTimeTampered)
	}
	if err.Severity != SeverityFatal {
		t.Errorf("Severity = %v, want SeverityFatal", err.Severity)
	}
	if got := err.Details["detail"]; got != "boot floor ahead of ntp consensus by 4h" {
		t.Errorf("Details[detail] = %v, want the supplied detail string", got)
	}
}

func TestCheckpointCorrupt(t *testing.T) {
	err := CheckpointCorrupt("only 1 of 3 checkpoint files decrypted")

	if err.Code != ErrCodeCheckpointCorrupt {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeCheckpointCorrupt)
	}
	if err.Severity != SeverityFatal {
		t.Errorf("Severity = %v, want SeverityFatal", err.Severity)
	}
}

func TestLicenseExpired(t *testing.T) {
	err := LicenseExpired()

	if err.Code != ErrCodeLicenseExpired {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeLicenseExpired)
	}
	if err.Severity != SeverityQuery {
		t.Errorf("Severity = %v, want SeverityQuery", err.Severity)
	}
}

func TestLicenseSignatureInvalid(t *testing.T) {
	cause := errors.New("rsa: verification error")
	err := LicenseSignatureInvalid(cause)

	if err.Code != ErrCodeLicenseSignatureInvalid {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeLicenseSignatureInvalid)
	}
	if err.Severity != SeverityQuery {
		t.Errorf("Severity = %v, want SeverityQuery", err.Severity)
	}
	if err.Err != cause {
		t.Errorf("Err = %v, want %v", err.Err, cause)
	}
}

func TestLicenseClockUntrusted(t *testing.T) {
	err := LicenseClockUntrusted()

	if err.Code != ErrCodeLicenseClockUntrusted {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeLicenseClockUntrusted)
	}
	if err.Severity != SeverityQuery {
		t.Errorf("Severity = %v, want SeverityQuery", err.Severity)
	}
}

func TestIsServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"service error", LicenseExpired(), true},
		{"wrapped service error", fmt.Errorf("query failed: %w", LicenseExpired()), true},
		{"plain error", errors.New("not a service error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsServiceError(tt.err); got != tt.want {
				t.Errorf("IsServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetServiceError(t *testing.T) {
	base := LicenseClockUntrusted()
	wrapped := fmt.Errorf("validate: %w", base)

	if got := GetServiceError(wrapped); got != base {
		t.Errorf("GetServiceError(wrapped) = %v, want %v", got, base)
	}
	if got := GetServiceError(errors.New("plain")); got != nil {
		t.Errorf("GetServiceError(plain) = %v, want nil", got)
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(InvalidKey(nil)); got != ErrCodeInvalidKey {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeInvalidKey)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode() = %v, want empty", got)
	}
}

func TestGetSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"fatal error", InvalidKey(nil), SeverityFatal},
		{"query error", LicenseExpired(), SeverityQuery},
		{"plain error defaults to query", errors.New("plain"), SeverityQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}
