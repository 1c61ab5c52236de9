package license

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	engconfig "github.com/nascentcore/license-engine/infrastructure/config"
	engcrypto "github.com/nascentcore/license-engine/infrastructure/crypto"
	engerrors "github.com/nascentcore/license-engine/infrastructure/errors"
)

// privateKeyEnvelopeInfo is the HKDF context string binding an at-rest
// envelope specifically to the private signing key's role, so the same
// envelope secret could not be repurposed to decrypt an unrelated blob.
const privateKeyEnvelopeInfo = "license-engine-private-key"

// DefaultExternalTimeSources mirrors the default NTP host pool consulted by
// the trusted-time oracle when no override is configured.
var DefaultExternalTimeSources = []string{
	"pool.ntp.org",
	"time.windows.com",
	"time.apple.com",
	"time.google.com",
}

const (
	defaultMaxClockSkewSeconds              = 300
	defaultCheckpointAgreementToleranceSecs = 1
	defaultExternalReprobeIntervalSeconds   = 300
)

// Config is the seven recognized engine options. PublicKeySource and
// PrivateKeySource hold already-resolved PEM bytes; LoadFromEnv accepts
// either an inline PEM value or a filesystem path in the corresponding
// environment variable.
type Config struct {
	PublicKeySource                     []byte
	PrivateKeySource                    []byte
	CheckpointSecret                    []byte
	ExternalTimeSources                 []string
	MaxClockSkewSeconds                 int
	CheckpointAgreementToleranceSeconds int
	ExternalReprobeIntervalSeconds      int
}

// LoadFromEnv builds a Config from environment variables:
//
//	LICENSE_PUBLIC_KEY / LICENSE_PUBLIC_KEY_PATH
//	LICENSE_PRIVATE_KEY / LICENSE_PRIVATE_KEY_PATH
//	LICENSE_PRIVATE_KEY_ENVELOPE_SECRET (32-byte URL-safe base64, optional)
//	LICENSE_CHECKPOINT_SECRET     (32-byte URL-safe base64)
//	LICENSE_EXTERNAL_TIME_SOURCES (comma-separated host list)
//	LICENSE_MAX_CLOCK_SKEW_SECONDS
//	LICENSE_CHECKPOINT_AGREEMENT_TOLERANCE_SECONDS
//	LICENSE_EXTERNAL_REPROBE_INTERVAL_SECONDS
//
// Only the checkpoint secret is required; public/private key sources are
// each optional individually since a process may run as verifier-only or
// issuer-only, but resolving either one requires its corresponding
// environment variable to name existing, readable PEM material.
//
// When LICENSE_PRIVATE_KEY_ENVELOPE_SECRET is set, LICENSE_PRIVATE_KEY_PATH
// is read as an AES-256-GCM envelope (infrastructure/crypto.EncryptEnvelope
// output) rather than plain PEM, so the issuer's signing key can be stored
// encrypted at rest. This has no effect on LICENSE_PRIVATE_KEY (the inline
// form is assumed to already come from a secret store).
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MaxClockSkewSeconds:                 engconfig.GetEnvInt("LICENSE_MAX_CLOCK_SKEW_SECONDS", defaultMaxClockSkewSeconds),
		CheckpointAgreementToleranceSeconds: engconfig.GetEnvInt("LICENSE_CHECKPOINT_AGREEMENT_TOLERANCE_SECONDS", defaultCheckpointAgreementToleranceSecs),
		ExternalReprobeIntervalSeconds:      engconfig.GetEnvInt("LICENSE_EXTERNAL_REPROBE_INTERVAL_SECONDS", defaultExternalReprobeIntervalSeconds),
	}

	if hosts := engconfig.SplitAndTrimCSV(engconfig.GetEnv("LICENSE_EXTERNAL_TIME_SOURCES", "")); len(hosts) > 0 {
		cfg.ExternalTimeSources = hosts
	} else {
		cfg.ExternalTimeSources = append([]string(nil), DefaultExternalTimeSources...)
	}

	pub, err := resolveKeyMaterial("LICENSE_PUBLIC_KEY", "LICENSE_PUBLIC_KEY_PATH")
	if err != nil {
		return nil, err
	}
	cfg.PublicKeySource = pub

	priv, err := resolveKeyMaterial("LICENSE_PRIVATE_KEY", "LICENSE_PRIVATE_KEY_PATH")
	if err != nil {
		return nil, err
	}
	if priv != nil {
		if envelopeB64 := engconfig.GetEnv("LICENSE_PRIVATE_KEY_ENVELOPE_SECRET", ""); envelopeB64 != "" && os.Getenv("LICENSE_PRIVATE_KEY") == "" {
			envelopeSecret, err := base64.URLEncoding.DecodeString(envelopeB64)
			if err != nil {
				return nil, engerrors.Wrap(engerrors.ErrCodeInvalidKey, "private key envelope secret is not valid URL-safe base64", engerrors.SeverityFatal, err)
			}
			priv, err = engcrypto.DecryptEnvelope(envelopeSecret, []byte(privateKeyEnvelopeInfo), privateKeyEnvelopeInfo, priv)
			if err != nil {
				return nil, engerrors.Wrap(engerrors.ErrCodeInvalidKey, "decrypting private key envelope", engerrors.SeverityFatal, err)
			}
		}
	}
	cfg.PrivateKeySource = priv

	secretB64 := engconfig.GetEnv("LICENSE_CHECKPOINT_SECRET", "")
	if secretB64 == "" {
		return nil, engerrors.New(engerrors.ErrCodeInvalidKey, "LICENSE_CHECKPOINT_SECRET is required", engerrors.SeverityFatal)
	}
	secret, err := base64.URLEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, engerrors.Wrap(engerrors.ErrCodeInvalidKey, "checkpoint secret is not valid URL-safe base64", engerrors.SeverityFatal, err)
	}
	if len(secret) != 32 {
		return nil, engerrors.New(engerrors.ErrCodeInvalidKey, fmt.Sprintf("checkpoint secret must decode to 32 bytes, got %d", len(secret)), engerrors.SeverityFatal)
	}
	cfg.CheckpointSecret = secret

	return cfg, nil
}

// resolveKeyMaterial returns the inline PEM value of inlineVar if set, else
// reads the file named by pathVar, else returns nil (the caller is not
// using this key role).
func resolveKeyMaterial(inlineVar, pathVar string) ([]byte, error) {
	if inline := os.Getenv(inlineVar); strings.TrimSpace(inline) != "" {
		return []byte(inline), nil
	}
	path := strings.TrimSpace(os.Getenv(pathVar))
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engerrors.Wrap(engerrors.ErrCodeInvalidKey, fmt.Sprintf("reading %s", pathVar), engerrors.SeverityFatal, err)
	}
	return data, nil
}
