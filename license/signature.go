package license

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	engerrors "github.com/nascentcore/license-engine/infrastructure/errors"
)

// MinRSAKeyBits is the minimum admissible RSA modulus size.
const MinRSAKeyBits = 2048

// ParsePublicKey decodes a PEM-encoded SubjectPublicKeyInfo block and returns
// the embedded RSA public key.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, engerrors.InvalidKey(fmt.Errorf("no PEM block found"))
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, engerrors.InvalidKey(fmt.Errorf("parse PKIX public key: %w", err))
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, engerrors.InvalidKey(fmt.Errorf("public key is not RSA"))
	}
	if rsaPub.N.BitLen() < MinRSAKeyBits {
		return nil, engerrors.InvalidKey(fmt.Errorf("RSA key size %d bits is below the %d-bit minimum", rsaPub.N.BitLen(), MinRSAKeyBits))
	}

	return rsaPub, nil
}

// ParsePrivateKey decodes a PEM-encoded, unencrypted PKCS#8 block and returns
// the embedded RSA private key.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, engerrors.InvalidKey(fmt.Errorf("no PEM block found"))
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, engerrors.InvalidKey(fmt.Errorf("parse PKCS8 private key: %w", err))
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, engerrors.InvalidKey(fmt.Errorf("private key is not RSA"))
	}
	if rsaKey.N.BitLen() < MinRSAKeyBits {
		return nil, engerrors.InvalidKey(fmt.Errorf("RSA key size %d bits is below the %d-bit minimum", rsaKey.N.BitLen(), MinRSAKeyBits))
	}

	return rsaKey, nil
}

// pssOptions returns the RSA-PSS parameters mandated by the signature
// engine: SHA-256 as both hash and MGF1 hash, salt length equal to the
// maximum admissible under the key size.
func pssOptions() *rsa.PSSOptions {
	return &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	}
}

// Sign signs canonicalBytes with privateKey using RSA-PSS/SHA-256 and
// returns the signature as lowercase hex.
func Sign(canonicalBytes []byte, privateKey *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256(canonicalBytes)

	sig, err := rsa.SignPSS(rand.Reader, privateKey, crypto.SHA256, digest[:], pssOptions())
	if err != nil {
		return "", fmt.Errorf("rsa-pss sign: %w", err)
	}

	return hex.EncodeToString(sig), nil
}

// Verify reports whether hexSignature is a valid RSA-PSS/SHA-256 signature
// over canonicalBytes under publicKey. It never returns an error to the
// caller for cryptographic failures — every failure mode (missing
// signature, odd-length hex, non-hex characters, length mismatch,
// cryptographic mismatch) collapses to false.
func Verify(canonicalBytes []byte, hexSignature string, publicKey *rsa.PublicKey) bool {
	if hexSignature == "" {
		return false
	}

	sig, err := hex.DecodeString(hexSignature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(canonicalBytes)
	err = rsa.VerifyPSS(publicKey, crypto.SHA256, digest[:], sig, pssOptions())
	return err == nil
}
