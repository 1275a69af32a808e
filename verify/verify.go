// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package verify checks FPGA DICE certificate chains against the CRLs their certificates point
// to.
package verify

import (
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/go-fpga-attest/dice"
	"github.com/google/go-fpga-attest/verify/trust"
	"github.com/google/logger"
	"go.uber.org/multierr"
)

// ErrEmptyChain is returned when there is no certificate to verify.
var ErrEmptyChain = errors.New("certificate chain is empty")

// CRLProvider returns the revocation list published at a distribution point.
type CRLProvider = trust.CRLProvider

// DistributionPointFunc returns the CRL distribution point of a certificate, if it has one.
type DistributionPointFunc func(cert *x509.Certificate) (string, bool)

// SignatureVerifier checks whether a CRL was signed by the key of a candidate issuer.
type SignatureVerifier interface {
	VerifyCRLSignature(crl *x509.RevocationList, issuer *x509.Certificate) error
}

// PublicKeySignatureVerifier checks the CRL signature over its TBS bytes with the candidate's
// public key. It places no constraints on the candidate certificate itself.
type PublicKeySignatureVerifier struct{}

// VerifyCRLSignature returns nil if issuer's key produced crl's signature.
func (PublicKeySignatureVerifier) VerifyCRLSignature(crl *x509.RevocationList, issuer *x509.Certificate) error {
	return issuer.CheckSignature(crl.SignatureAlgorithm, crl.RawTBSRevocationList, crl.Signature)
}

// CRLSignatureErr is returned when no certificate above a CRL's subject verifies the CRL's
// signature.
type CRLSignatureErr struct {
	error
	// URL is the distribution point the CRL came from.
	URL string
	// Index is the chain position of the certificate the CRL was fetched for.
	Index int
}

func (e *CRLSignatureErr) Error() string {
	return fmt.Sprintf("failed to verify signature of CRL %s for certificate %d: %v", e.URL, e.Index, e.error)
}

// Unwrap returns the combined per-candidate failures.
func (e *CRLSignatureErr) Unwrap() error { return e.error }

// RevokedIntermediateErr is returned when a certificate other than the leaf is revoked. A revoked
// intermediate invalidates every device under it, which is not a per-device verdict.
type RevokedIntermediateErr struct {
	// Index is the chain position of the revoked certificate.
	Index          int
	SerialNumber   *big.Int
	RevocationTime time.Time
}

func (e *RevokedIntermediateErr) Error() string {
	return fmt.Sprintf("intermediate certificate %d (serial %x) was revoked at %v", e.Index, e.SerialNumber, e.RevocationTime)
}

// CRLVerifier checks each non-root certificate of a leaf-first chain against the CRL at its
// distribution point. The CRL may be signed by any certificate above it in the chain.
type CRLVerifier struct {
	// Provider fetches CRLs. If nil, CRLs are downloaded with trust.DefaultHTTPSGetter().
	Provider CRLProvider
	// DistributionPoint locates a certificate's CRL. If nil, uses dice.DistributionPoint.
	DistributionPoint DistributionPointFunc
	// Signatures checks CRL signatures. If nil, uses PublicKeySignatureVerifier.
	Signatures SignatureVerifier
}

// DefaultCRLVerifier returns a verifier that downloads CRLs and keeps them until they expire.
func DefaultCRLVerifier() *CRLVerifier {
	return &CRLVerifier{
		Provider: &trust.CachingCRLProvider{Provider: &trust.GetterCRLProvider{}},
	}
}

func (v *CRLVerifier) provider() CRLProvider {
	if v.Provider == nil {
		return &trust.GetterCRLProvider{}
	}
	return v.Provider
}

func (v *CRLVerifier) distributionPoint(cert *x509.Certificate) (string, bool) {
	if v.DistributionPoint == nil {
		return dice.DistributionPoint(cert)
	}
	return v.DistributionPoint(cert)
}

func (v *CRLVerifier) signatures() SignatureVerifier {
	if v.Signatures == nil {
		return PublicKeySignatureVerifier{}
	}
	return v.Signatures
}

// findCRLSigner tries chain[index+1:] in order and stops at the first certificate whose key
// verifies crl.
func (v *CRLVerifier) findCRLSigner(chain []*x509.Certificate, index int, crl *x509.RevocationList, url string) error {
	var errs error
	for j := index + 1; j < len(chain); j++ {
		err := v.signatures().VerifyCRLSignature(crl, chain[j])
		if err == nil {
			if j != index+1 {
				logger.Infof("CRL %s for certificate %d is signed by certificate %d", url, index, j)
			}
			return nil
		}
		errs = multierr.Append(errs, fmt.Errorf("certificate %d: %v", j, err))
	}
	return &CRLSignatureErr{error: errs, URL: url, Index: index}
}

// revocation finds serial in crl. A certificate without a serial number matches no entry.
func revocation(crl *x509.RevocationList, serial *big.Int) (x509.RevocationListEntry, bool) {
	if serial == nil {
		return x509.RevocationListEntry{}, false
	}
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber != nil && entry.SerialNumber.Cmp(serial) == 0 {
			return entry, true
		}
	}
	return x509.RevocationListEntry{}, false
}

// VerifyChain returns true if no certificate of chain (leaf first, root last) is revoked.
//
// The root is not checked. A certificate without a distribution point fails the chain, except
// the leaf when requireCRLForLeaf is false. A revoked leaf returns false; a revoked intermediate
// returns a *RevokedIntermediateErr. A CRL that no higher certificate signed returns a
// *CRLSignatureErr. Provider errors are returned unchanged.
func (v *CRLVerifier) VerifyChain(chain []*x509.Certificate, requireCRLForLeaf bool) (bool, error) {
	if len(chain) == 0 {
		return false, ErrEmptyChain
	}
	for i := 0; i < len(chain)-1; i++ {
		cert := chain[i]
		url, ok := v.distributionPoint(cert)
		if !ok {
			if i == 0 && !requireCRLForLeaf {
				logger.Infof("leaf certificate %v has no CRL distribution point, skipping", cert.Subject)
				continue
			}
			logger.Warningf("certificate %d (%v) has no CRL distribution point", i, cert.Subject)
			return false, nil
		}
		crl, err := v.provider().GetCRL(url)
		if err != nil {
			return false, err
		}
		if err := v.findCRLSigner(chain, i, crl, url); err != nil {
			return false, err
		}
		entry, revoked := revocation(crl, cert.SerialNumber)
		if !revoked {
			continue
		}
		if i == 0 {
			logger.Warningf("leaf certificate %v (serial %x) was revoked at %v", cert.Subject, cert.SerialNumber, entry.RevocationTime)
			return false, nil
		}
		return false, &RevokedIntermediateErr{Index: i, SerialNumber: cert.SerialNumber, RevocationTime: entry.RevocationTime}
	}
	return true, nil
}
