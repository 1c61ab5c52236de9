package license

import (
	"crypto/rsa"

	"github.com/google/uuid"
)

// NewLicenseID generates an opaque license identifier: a random 128-bit
// value rendered in the canonical hyphenated hex form. Callers that already
// track their own identifier scheme may ignore this and set LicenseID
// directly; nothing in the verifier depends on the identifier's shape.
func NewLicenseID() string {
	return uuid.New().String()
}

// Issuer mirrors the canonical serializer and signature engine from the
// issuance side. It does not touch the filesystem or decide where a signed
// artifact is stored; callers own persistence.
type Issuer struct {
	privateKey *rsa.PrivateKey
}

// NewIssuer returns an Issuer bound to privateKey. Use ParsePrivateKey to
// obtain privateKey from a PEM-encoded PKCS#8 block.
func NewIssuer(privateKey *rsa.PrivateKey) *Issuer {
	return &Issuer{privateKey: privateKey}
}

// Issue computes the canonical bytes of lic, signs them, and returns a copy
// of lic with Signature populated. lic.Signature is ignored on input: the
// canonical bytes never include it regardless of what the caller sets.
func (iss *Issuer) Issue(lic License) (License, error) {
	unsigned := lic
	unsigned.Signature = ""

	canonical, err := CanonicalBytes(&unsigned)
	if err != nil {
		return License{}, err
	}

	sig, err := Sign(canonical, iss.privateKey)
	if err != nil {
		return License{}, err
	}

	signed := unsigned
	signed.Signature = sig
	return signed, nil
}
