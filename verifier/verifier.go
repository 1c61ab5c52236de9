// Package verifier implements the Verifier Facade: it orchestrates the
// canonical serializer, signature engine, trusted-time oracle, sealed
// checkpoint store, and entitlement matcher behind a single predicate-shaped
// query surface.
package verifier

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/nascentcore/license-engine/checkpoint"
	"github.com/nascentcore/license-engine/infrastructure/errors"
	"github.com/nascentcore/license-engine/infrastructure/logging"
	"github.com/nascentcore/license-engine/infrastructure/metrics"
	"github.com/nascentcore/license-engine/license"
	"github.com/nascentcore/license-engine/trustedtime"
)

// DiagnosticFunc is fired immediately before every false return caused by a
// validation failure (from Validate, or from a query whose validation fails),
// carrying the internal failure kind. A query that passes validation but is
// denied by the entitlement matcher does not fire it. The boolean contract exposed
// to callers never leaks this distinction; DiagnosticFunc exists purely for
// operators wiring up their own logs or alerts.
type DiagnosticFunc func(code errors.ErrorCode, err error)

// Option configures optional ambient dependencies on a Verifier. None of
// them are required; a Verifier built with no options still fully
// implements the query surface.
type Option func(*Verifier)

// WithMetrics injects a Prometheus collector. A nil Collector (the default)
// makes every recording call a no-op.
func WithMetrics(m *metrics.Collector) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithLogger injects a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// WithDiagnostic installs a diagnostic callback.
func WithDiagnostic(fn DiagnosticFunc) Option {
	return func(v *Verifier) { v.diagnostic = fn }
}

// WithEngineName sets the "engine" label applied to this Verifier's metrics.
func WithEngineName(name string) Option {
	return func(v *Verifier) { v.engineName = name }
}

// Verifier aggregates Components A-E behind the query surface from §4.F.
// It is not internally synchronized: callers sharing one Verifier across
// goroutines must serialize calls themselves to preserve the monotone
// trusted_now guarantee documented in §5.
type Verifier struct {
	publicKey *rsa.PublicKey
	oracle    *trustedtime.Oracle

	metrics    *metrics.Collector
	logger     *logging.Logger
	diagnostic DiagnosticFunc
	engineName string
}

// New constructs a Verifier from cfg's resolved public key and checkpoint
// secret. checkpointDir names the directory holding the three sealed
// checkpoint files; it is a filesystem layout concern (§1 "out of scope for
// this core") and therefore is not one of the seven Config options.
//
// Construction performs full trusted-time oracle initialization and
// therefore may fail with a fatal InvalidKey, SystemTimeTampered, or
// CheckpointCorrupt *errors.ServiceError.
func New(cfg *license.Config, checkpointDir string, opts ...Option) (*Verifier, error) {
	pub, err := license.ParsePublicKey(cfg.PublicKeySource)
	if err != nil {
		return nil, err
	}

	v := &Verifier{
		publicKey:  pub,
		engineName: "license-engine",
	}
	for _, opt := range opts {
		opt(v)
	}

	store, err := checkpoint.NewStore(checkpointDir, cfg.CheckpointSecret, time.Duration(cfg.CheckpointAgreementToleranceSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	oracle, err := trustedtime.New(trustedtime.Config{
		Hosts:               cfg.ExternalTimeSources,
		MaxClockSkew:        time.Duration(cfg.MaxClockSkewSeconds) * time.Second,
		ReprobeInterval:     time.Duration(cfg.ExternalReprobeIntervalSeconds) * time.Second,
		CheckpointTolerance: time.Duration(cfg.CheckpointAgreementToleranceSeconds) * time.Second,
		Store:               store,
		Metrics:             v.metrics,
		Logger:              v.logger,
		EngineName:          v.engineName,
	})
	if err != nil {
		return nil, err
	}
	v.oracle = oracle

	return v, nil
}

// Validate implements the §4.F state machine:
//  1. Consult the oracle; untrusted clock -> false.
//  2. Compare trusted_now against the license window -> outside -> false.
//  3. Recompute canonical bytes and verify the signature -> mismatch -> false.
//  4. Ratchet the sealed checkpoint to trusted_now. Return true.
//
// Step 4 runs even though a caller's subsequent entitlement query might
// still return false: successful license verification is what advances the
// floor, not a successful entitlement answer.
func (v *Verifier) Validate(ctx context.Context, lic *license.License) bool {
	start := time.Now()
	ok := v.validate(ctx, lic)
	v.metrics.RecordValidation(v.engineName, ok, time.Since(start))
	if v.logger != nil {
		v.logger.LogValidation(ctx, lic.LicenseID, ok, time.Since(start))
	}
	return ok
}

func (v *Verifier) validate(ctx context.Context, lic *license.License) bool {
	trustedNow, trusted := v.oracle.Now(ctx)
	if !trusted {
		v.fail(errors.LicenseClockUntrusted())
		return false
	}

	if !lic.WindowValid() || !lic.WithinWindow(trustedNow) {
		v.fail(errors.LicenseExpired())
		return false
	}

	if !lic.IsSigned() {
		v.recordSignatureFailure()
		v.fail(errors.LicenseSignatureInvalid(nil))
		return false
	}

	canonical, err := license.CanonicalBytes(lic)
	if err != nil {
		v.recordSignatureFailure()
		v.fail(errors.LicenseSignatureInvalid(err))
		return false
	}
	if !license.Verify(canonical, lic.Signature, v.publicKey) {
		v.recordSignatureFailure()
		v.fail(errors.LicenseSignatureInvalid(nil))
		return false
	}
	if v.logger != nil {
		v.logger.LogSignatureCheck(ctx, lic.LicenseID, nil)
	}

	resealErr := v.oracle.Ratchet(trustedNow)
	v.metrics.RecordCheckpointReseal(v.engineName, resealErr == nil)
	if v.logger != nil {
		v.logger.LogCheckpointReseal(ctx, trustedNow.Unix(), resealErr)
	}

	return true
}

func (v *Verifier) recordSignatureFailure() {
	v.metrics.RecordSignatureFailure(v.engineName)
}

func (v *Verifier) fail(svcErr *errors.ServiceError) {
	if v.diagnostic != nil {
		v.diagnostic(svcErr.Code, svcErr)
	}
}

// CheckAPI is validate(lic) AND lic.CheckAPI(method, path).
func (v *Verifier) CheckAPI(ctx context.Context, lic *license.License, method, path string) bool {
	return v.query(ctx, lic, "api", func() bool { return lic.CheckAPI(method, path) })
}

// CheckService is validate(lic) AND lic.CheckService(serviceName, endpoint).
func (v *Verifier) CheckService(ctx context.Context, lic *license.License, serviceName, endpoint string) bool {
	return v.query(ctx, lic, "service", func() bool { return lic.CheckService(serviceName, endpoint) })
}

// CheckUI is validate(lic) AND lic.CheckUI(componentID).
func (v *Verifier) CheckUI(ctx context.Context, lic *license.License, componentID string) bool {
	return v.query(ctx, lic, "ui", func() bool { return lic.CheckUI(componentID) })
}

// CheckButton is validate(lic) AND lic.CheckButton(buttonID).
func (v *Verifier) CheckButton(ctx context.Context, lic *license.License, buttonID string) bool {
	return v.query(ctx, lic, "button", func() bool { return lic.CheckButton(buttonID) })
}

// CheckFeature is validate(lic) AND lic.CheckFeature(featureID, featureType).
func (v *Verifier) CheckFeature(ctx context.Context, lic *license.License, featureID string, featureType license.FeatureType) bool {
	return v.query(ctx, lic, string(featureType), func() bool { return lic.CheckFeature(featureID, featureType) })
}

// CheckUsageLimit is validate(lic) AND lic.CheckUsageLimit(metricType, delta).
func (v *Verifier) CheckUsageLimit(ctx context.Context, lic *license.License, metricType string, delta int64) bool {
	return v.query(ctx, lic, "usage_limit", func() bool { return lic.CheckUsageLimit(metricType, delta) })
}

func (v *Verifier) query(ctx context.Context, lic *license.License, featureType string, matcherQuery func() bool) bool {
	if !v.Validate(ctx, lic) {
		v.metrics.RecordEntitlementQuery(v.engineName, featureType, false)
		return false
	}
	granted := matcherQuery()
	v.metrics.RecordEntitlementQuery(v.engineName, featureType, granted)
	if v.logger != nil {
		v.logger.LogEntitlementQuery(ctx, lic.LicenseID, featureType, granted)
	}
	return granted
}
