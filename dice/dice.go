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

// Package dice defines the TCG DICE certificate extensions carried by FPGA device certificates and
// the layout of the Intel trusted services distribution points that serve their CRLs.
package dice

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-fpga-attest/tcbinfo"
	"go.uber.org/multierr"
)

var (
	// OidTcbInfo is the tcg-dice-TcbInfo certificate extension.
	OidTcbInfo = asn1.ObjectIdentifier([]int{2, 23, 133, 5, 4, 1})
	// OidUeid is the tcg-dice-Ueid certificate extension.
	OidUeid = asn1.ObjectIdentifier([]int{2, 23, 133, 5, 4, 4})
	// OidMultiTcbInfo is the tcg-dice-MultiTcbInfo certificate extension.
	OidMultiTcbInfo = asn1.ObjectIdentifier([]int{2, 23, 133, 5, 4, 5})

	// OidKpIdentityInit is the tcg-dice-kp-identityInit extended key usage.
	OidKpIdentityInit = asn1.ObjectIdentifier([]int{2, 23, 133, 5, 4, 100, 6})
	// OidKpIdentityLoc is the tcg-dice-kp-identityLoc extended key usage.
	OidKpIdentityLoc = asn1.ObjectIdentifier([]int{2, 23, 133, 5, 4, 100, 7})
	// OidKpAttestInit is the tcg-dice-kp-attestInit extended key usage.
	OidKpAttestInit = asn1.ObjectIdentifier([]int{2, 23, 133, 5, 4, 100, 8})
	// OidKpAttestLoc is the tcg-dice-kp-attestLoc extended key usage.
	OidKpAttestLoc = asn1.ObjectIdentifier([]int{2, 23, 133, 5, 4, 100, 9})
	// OidKpCodeSigning is the PKIX id-kp-codeSigning extended key usage.
	OidKpCodeSigning = asn1.ObjectIdentifier([]int{1, 3, 6, 1, 5, 5, 7, 3, 3})
)

const (
	tsciHostname = "tsci.intel.com"
	tsciBaseURL  = "https://" + tsciHostname
	contentPath  = "/content/"
	ipcsCrlPath  = contentPath + "IPCS/crls/"
	ipcsCertPath = contentPath + "IPCS/certs/"
	diceCrlPath  = contentPath + "DICE/crls/"
	diceRootName = "DICE"
)

type fwid struct {
	HashAlg asn1.ObjectIdentifier
	Digest  []byte
}

// diceTcbInfo is DiceTcbInfo from the TCG DICE attestation architecture. Integer fields default
// to -1 so that an absent field can be told apart from a zero.
type diceTcbInfo struct {
	Vendor     string         `asn1:"optional,tag:0,utf8"`
	Model      string         `asn1:"optional,tag:1,utf8"`
	Version    string         `asn1:"optional,tag:2,utf8"`
	SVN        int            `asn1:"optional,tag:3,default:-1"`
	Layer      int            `asn1:"optional,tag:4,default:-1"`
	Index      int            `asn1:"optional,tag:5,default:-1"`
	Fwids      []fwid         `asn1:"optional,tag:6"`
	Flags      asn1.BitString `asn1:"optional,tag:7"`
	VendorInfo []byte         `asn1:"optional,tag:8"`
	Type       []byte         `asn1:"optional,tag:9"`
}

func typeString(raw []byte) string {
	var oid asn1.ObjectIdentifier
	if rest, err := asn1.Unmarshal(raw, &oid); err == nil && len(rest) == 0 {
		return oid.String()
	}
	return strings.ToUpper(hex.EncodeToString(raw))
}

func typeBytes(s string) ([]byte, error) {
	if strings.Contains(s, ".") {
		oid, err := parseOID(s)
		if err != nil {
			return nil, err
		}
		return asn1.Marshal(oid)
	}
	return hex.DecodeString(s)
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	var oid asn1.ObjectIdentifier
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("malformed OID %q", s)
		}
		oid = append(oid, n)
	}
	if len(oid) < 2 {
		return nil, fmt.Errorf("malformed OID %q", s)
	}
	return oid, nil
}

func (d *diceTcbInfo) toTcbInfo() tcbinfo.TcbInfo {
	b := &tcbinfo.Builder{}
	if d.Vendor != "" {
		b.Vendor(d.Vendor)
	}
	if d.Model != "" {
		b.Model(d.Model)
	}
	if d.Layer >= 0 {
		b.Layer(d.Layer)
	}
	if d.Index >= 0 {
		b.Index(d.Index)
	}
	if len(d.Fwids) > 0 {
		b.Fwids(tcbinfo.NewFwIdField(d.Fwids[0].HashAlg.String(), hex.EncodeToString(d.Fwids[0].Digest)))
	}
	if len(d.Type) > 0 {
		b.Type(typeString(d.Type))
	}
	if len(d.VendorInfo) > 0 {
		b.VendorInfo(tcbinfo.NewMaskedVendorInfo(hex.EncodeToString(d.VendorInfo), ""))
	}
	return b.Build()
}

func fromTcbInfo(t tcbinfo.TcbInfo) (*diceTcbInfo, error) {
	d := &diceTcbInfo{SVN: -1, Layer: -1, Index: -1}
	d.Vendor, _ = t.Vendor()
	d.Model, _ = t.Model()
	if layer, ok := t.Layer(); ok {
		d.Layer = layer
	}
	if index, ok := t.Index(); ok {
		d.Index = index
	}
	var errs error
	if f, ok := t.Fwids(); ok {
		oid, err := parseOID(f.HashAlg)
		errs = multierr.Append(errs, err)
		digest, err := hex.DecodeString(f.Digest)
		errs = multierr.Append(errs, err)
		d.Fwids = []fwid{{HashAlg: oid, Digest: digest}}
	}
	if typ, ok := t.Type(); ok {
		raw, err := typeBytes(typ)
		errs = multierr.Append(errs, err)
		d.Type = raw
	}
	if vi, ok := t.VendorInfo(); ok {
		raw, err := hex.DecodeString(vi.VendorInfo)
		errs = multierr.Append(errs, err)
		d.VendorInfo = raw
	}
	if errs != nil {
		return nil, fmt.Errorf("could not encode %v: %v", t, errs)
	}
	return d, nil
}

func extensionByOID(cert *x509.Certificate, oid asn1.ObjectIdentifier) *pkix.Extension {
	for i := range cert.Extensions {
		if cert.Extensions[i].Id.Equal(oid) {
			return &cert.Extensions[i]
		}
	}
	return nil
}

// CertificateTcbInfos returns the measurements recorded in cert's TcbInfo and MultiTcbInfo
// extensions, TcbInfo first. A certificate with neither extension yields no entries.
func CertificateTcbInfos(cert *x509.Certificate) ([]tcbinfo.TcbInfo, error) {
	var result []tcbinfo.TcbInfo
	if ext := extensionByOID(cert, OidTcbInfo); ext != nil {
		var d diceTcbInfo
		rest, err := asn1.Unmarshal(ext.Value, &d)
		if err != nil {
			return nil, fmt.Errorf("could not parse TcbInfo extension: %v", err)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("unexpected %d trailing bytes after TcbInfo extension", len(rest))
		}
		result = append(result, d.toTcbInfo())
	}
	if ext := extensionByOID(cert, OidMultiTcbInfo); ext != nil {
		var ds []diceTcbInfo
		rest, err := asn1.Unmarshal(ext.Value, &ds)
		if err != nil {
			return nil, fmt.Errorf("could not parse MultiTcbInfo extension: %v", err)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("unexpected %d trailing bytes after MultiTcbInfo extension", len(rest))
		}
		for i := range ds {
			result = append(result, ds[i].toTcbInfo())
		}
	}
	return result, nil
}

// TcbInfoExtension encodes t as a TcbInfo certificate extension.
func TcbInfoExtension(t tcbinfo.TcbInfo) (pkix.Extension, error) {
	d, err := fromTcbInfo(t)
	if err != nil {
		return pkix.Extension{}, err
	}
	value, err := asn1.Marshal(*d)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: OidTcbInfo, Value: value}, nil
}

// MultiTcbInfoExtension encodes ts as a MultiTcbInfo certificate extension.
func MultiTcbInfoExtension(ts []tcbinfo.TcbInfo) (pkix.Extension, error) {
	ds := make([]diceTcbInfo, 0, len(ts))
	var errs error
	for _, t := range ts {
		d, err := fromTcbInfo(t)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ds = append(ds, *d)
	}
	if errs != nil {
		return pkix.Extension{}, errs
	}
	value, err := asn1.Marshal(ds)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: OidMultiTcbInfo, Value: value}, nil
}

// DistributionPoint returns the first HTTP CRL distribution point of cert.
func DistributionPoint(cert *x509.Certificate) (string, bool) {
	for _, dp := range cert.CRLDistributionPoints {
		if strings.HasPrefix(dp, "http://") || strings.HasPrefix(dp, "https://") {
			return dp, true
		}
	}
	return "", false
}

// ParseCertChain returns the certificates of a PEM bundle, in bundle order. The bundle is
// expected to be leaf first.
func ParseCertChain(pems []byte) ([]*x509.Certificate, error) {
	checkForm := func(i int, b *pem.Block) error {
		if b.Type != "CERTIFICATE" {
			return fmt.Errorf("PEM block %d type is %s. Expect CERTIFICATE", i, b.Type)
		}
		if len(b.Headers) != 0 {
			return fmt.Errorf("PEM block %d has non-empty headers: %v", i, b.Headers)
		}
		return nil
	}
	var chain []*x509.Certificate
	var errs error
	rest := pems
	for i := 0; ; i++ {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if err := checkForm(i, block); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("PEM block %d: %v", i, err))
			continue
		}
		chain = append(chain, cert)
	}
	if errs != nil {
		return nil, errs
	}
	if len(strings.TrimSpace(string(rest))) != 0 {
		return nil, fmt.Errorf("unexpected trailing bytes: %d bytes", len(rest))
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("could not find any CERTIFICATE PEM block")
	}
	return chain, nil
}

// DiceRootCRLURL returns the distribution point of the CRL issued by the DICE root CA.
func DiceRootCRLURL() string {
	return fmt.Sprintf("%s%s%s.crl", tsciBaseURL, diceCrlPath, diceRootName)
}

// FamilyCRLURL returns the distribution point of the CRL for a device family's product CA.
func FamilyCRLURL(family string) string {
	return fmt.Sprintf("%s%sIPCS_%s.crl", tsciBaseURL, ipcsCrlPath, family)
}

// FamilyL1CRLURL returns the distribution point of the CRL for a device family's layer 1 CA.
func FamilyL1CRLURL(family string) string {
	return fmt.Sprintf("%s%sIPCS_%s_L1.crl", tsciBaseURL, ipcsCrlPath, family)
}

// DeviceIDCertURL returns where the device id certificate of a device is published. uid is the
// device unique id and ski the subject key identifier, both hex.
func DeviceIDCertURL(uid, ski string) string {
	return fmt.Sprintf("%s%sdeviceid_%s_%s.cer", tsciBaseURL, ipcsCertPath, uid, ski)
}

// AttestationCertURL returns where the attestation certificate of a device is published.
func AttestationCertURL(uid, ski string) string {
	return fmt.Sprintf("%s%sattestation_%s_%s.cer", tsciBaseURL, ipcsCertPath, uid, ski)
}

// EnrollmentCertURL returns where the enrollment certificate of a device at a given security
// version is published.
func EnrollmentCertURL(uid, svn, ski string) string {
	return fmt.Sprintf("%s%senrollment_%s_%s_%s.cer", tsciBaseURL, ipcsCertPath, uid, svn, ski)
}

// IIDUDSCertURL returns where the IID UDS certificate of a device is published.
func IIDUDSCertURL(uid, ski string) string {
	return fmt.Sprintf("%s%siiduds_%s_%s.cer", tsciBaseURL, ipcsCertPath, uid, ski)
}

// CRLKind classifies a distribution point.
type CRLKind int

const (
	// UnknownCRL is not a recognized distribution point.
	UnknownCRL CRLKind = iota
	// DiceRootCRL is issued by the DICE root CA.
	DiceRootCRL
	// FamilyCRL is issued by a device family's product CA.
	FamilyCRL
	// FamilyL1CRL is issued by a device family's layer 1 CA.
	FamilyL1CRL
)

func (k CRLKind) String() string {
	switch k {
	case DiceRootCRL:
		return "DICE root"
	case FamilyCRL:
		return "family"
	case FamilyL1CRL:
		return "family L1"
	}
	return "unknown"
}

// ParseCRLURL returns the kind and device family of a trusted services CRL distribution point,
// or an error if tsciurl is not one.
func ParseCRLURL(tsciurl string) (CRLKind, string, error) {
	u, err := url.Parse(tsciurl)
	if err != nil {
		return UnknownCRL, "", fmt.Errorf("invalid distribution point URL %q: %v", tsciurl, err)
	}
	if u.Scheme != "https" {
		return UnknownCRL, "", fmt.Errorf("unexpected distribution point URL scheme %q, want \"https\"", u.Scheme)
	}
	if u.Host != tsciHostname {
		return UnknownCRL, "", fmt.Errorf("unexpected distribution point URL host %q, want %q", u.Host, tsciHostname)
	}
	switch {
	case u.Path == diceCrlPath+diceRootName+".crl":
		return DiceRootCRL, "", nil
	case strings.HasPrefix(u.Path, ipcsCrlPath+"IPCS_") && strings.HasSuffix(u.Path, ".crl"):
		name := strings.TrimSuffix(strings.TrimPrefix(u.Path, ipcsCrlPath+"IPCS_"), ".crl")
		if name == "" || strings.Contains(name, "/") {
			return UnknownCRL, "", fmt.Errorf("url has unexpected CRL name %q", name)
		}
		if family, ok := strings.CutSuffix(name, "_L1"); ok {
			return FamilyL1CRL, family, nil
		}
		return FamilyCRL, name, nil
	}
	return UnknownCRL, "", fmt.Errorf("unexpected distribution point URL path %q, want prefix %q or %q", u.Path, ipcsCrlPath, diceCrlPath)
}
