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

// Package testing defines fakes and mocks for FPGA devices, their DICE certificate chains, and
// the trusted services that publish CRLs.
package testing

import (
	"crypto/ecdsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"flag"
	"fmt"
	"math/big"
	"strings"

	// Insecure randomness for faster testing.
	"math/rand"
	"time"

	"github.com/google/go-fpga-attest/dice"
	"github.com/google/go-fpga-attest/tcbinfo"
	"github.com/google/go-fpga-attest/testing/data"
	"go.uber.org/multierr"
)

const (
	rootExpirationYears     = 25
	familyExpirationYears   = 25
	deviceIDExpirationYears = 25
	aliasExpirationYears    = 7
	crlValidity             = 30 * 24 * time.Hour
)

// Positions of the fake certificates in a leaf-first chain.
const (
	AliasPosition = iota
	DeviceIDPosition
	FamilyPosition
	RootPosition
	chainLength
)

// ProductFamily decides the fake certificates' device family.
var ProductFamily = flag.String("product_family", "agilex",
	"The device family of the FPGA tested on, as it appears in trusted services URLs.")

// GetProductFamily returns the --product_family flag value or a valid default.
func GetProductFamily() string {
	if *ProductFamily == "" {
		return "agilex"
	}
	return *ProductFamily
}

// DiceKeys encapsulates the key chain of the DICE root through the firmware alias key.
type DiceKeys struct {
	Root     *ecdsa.PrivateKey
	Family   *ecdsa.PrivateKey
	DeviceID *ecdsa.PrivateKey
	Alias    *ecdsa.PrivateKey
}

// DefaultDiceKeys returns the fixed test key set.
func DefaultDiceKeys() *DiceKeys {
	return &DiceKeys{
		Root:     data.RootPrivateKey,
		Family:   data.FamilyPrivateKey,
		DeviceID: data.DeviceIDPrivateKey,
		Alias:    data.AliasPrivateKey,
	}
}

func (k *DiceKeys) at(position int) *ecdsa.PrivateKey {
	return [chainLength]*ecdsa.PrivateKey{k.Alias, k.DeviceID, k.Family, k.Root}[position]
}

// DiceSigner holds a test-only certificate chain shaped like an FPGA's DICE chain and the CRLs
// published for it.
type DiceSigner struct {
	Root     *x509.Certificate
	Family   *x509.Certificate
	DeviceID *x509.Certificate
	Alias    *x509.Certificate
	Keys     *DiceKeys
	// UID is the hex device unique id.
	UID string
	// CRLs maps a distribution point URL to the DER CRL published there.
	CRLs map[string][]byte
}

// Chain returns the certificates leaf first.
func (s *DiceSigner) Chain() []*x509.Certificate {
	return []*x509.Certificate{s.Alias, s.DeviceID, s.Family, s.Root}
}

// ChainPEM returns the certificates as a leaf-first PEM bundle.
func (s *DiceSigner) ChainPEM() ([]byte, error) {
	b := &strings.Builder{}
	var errs error
	for _, cert := range s.Chain() {
		errs = multierr.Append(errs, pem.Encode(b, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
	}
	if errs != nil {
		return nil, fmt.Errorf("could not encode certificate chain: %v", errs)
	}
	return []byte(b.String()), nil
}

// CRL returns the parsed CRL published at url.
func (s *DiceSigner) CRL(url string) (*x509.RevocationList, error) {
	der, ok := s.CRLs[url]
	if !ok {
		return nil, fmt.Errorf("no CRL published at %s", url)
	}
	return x509.ParseRevocationList(der)
}

// CertOverride encapsulates certificate aspects that can be overridden when creating a certificate
// chain.
type CertOverride struct {
	SerialNumber *big.Int
	Issuer       *pkix.Name
	Subject      *pkix.Name
	KeyUsage     x509.KeyUsage
	// If nil, interpreted as default, otherwise the unknown extended key usages of the cert.
	UnknownExtKeyUsage []asn1.ObjectIdentifier
	// If nil, interpreted as default, otherwise the CRLDistributionPoints for the cert. An empty
	// non-nil slice removes the extension.
	CRLDistributionPoints []string
	// If nil, interpreted as default list.
	Extensions []pkix.Extension
}

func (o CertOverride) override(cert *x509.Certificate) *x509.Certificate {
	if o.Issuer != nil {
		cert.Issuer = *o.Issuer
	}
	if o.Subject != nil {
		cert.Subject = *o.Subject
	}
	if o.SerialNumber != nil {
		cert.SerialNumber = o.SerialNumber
	}
	if o.KeyUsage != x509.KeyUsage(0) {
		cert.KeyUsage = o.KeyUsage
	}
	if o.UnknownExtKeyUsage != nil {
		cert.UnknownExtKeyUsage = o.UnknownExtKeyUsage
	}
	if o.CRLDistributionPoints != nil {
		cert.CRLDistributionPoints = o.CRLDistributionPoints
	}
	if o.Extensions != nil {
		cert.ExtraExtensions = o.Extensions
	}
	return cert
}

// DiceSignerBuilder represents toggleable configurations of the DICE certificate chain.
type DiceSignerBuilder struct {
	// Keys contains the private keys that will get a certificate chain structure.
	Keys          *DiceKeys
	ProductFamily string
	// UID is the hex device unique id. If empty, a fixed value is used.
	UID            string
	CreationTime   time.Time
	RootCustom     CertOverride
	FamilyCustom   CertOverride
	DeviceIDCustom CertOverride
	AliasCustom    CertOverride
	// AliasTcbInfos are the measurements carried by the alias certificate.
	AliasTcbInfos []tcbinfo.TcbInfo
	// Revoked lists serial numbers to include in the CRL at each distribution point URL.
	Revoked map[string][]*big.Int
	// CRLIssuers maps a distribution point URL to the chain position whose key signs its CRL. By
	// default the CRL is signed by the issuer of the first certificate that points to it.
	CRLIssuers map[string]int
	// Intermediate built certificates
	certs [chainLength]*x509.Certificate
}

var insecureRandomness = rand.New(rand.NewSource(0xc0de))

func intelPkixName(commonName string) pkix.Name {
	return pkix.Name{
		Organization: []string{"Intel Corporation"},
		Country:      []string{"US"},
		Locality:     []string{"Santa Clara"},
		Province:     []string{"CA"},
		CommonName:   commonName,
	}
}

func (b *DiceSignerBuilder) productFamily() string {
	if b.ProductFamily == "" {
		return GetProductFamily()
	}
	return b.ProductFamily
}

func (b *DiceSignerBuilder) uid() string {
	if b.UID == "" {
		return "0123456789abcdef"
	}
	return b.UID
}

func (b *DiceSignerBuilder) precert(position int) *x509.Certificate {
	family := b.productFamily()
	cert := &x509.Certificate{
		Version:            3,
		SerialNumber:       big.NewInt(int64(0xc0de00 + position)),
		SignatureAlgorithm: x509.ECDSAWithSHA384,
		NotBefore:          b.CreationTime.Add(-time.Hour),
	}
	switch position {
	case RootPosition:
		cert.Subject = intelPkixName("Intel:DICE:Root")
		cert.NotAfter = b.CreationTime.Add(time.Duration(365*24*rootExpirationYears) * time.Hour)
		cert.IsCA = true
		cert.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	case FamilyPosition:
		cert.Subject = intelPkixName(fmt.Sprintf("Intel:%s:ManSign", family))
		cert.NotAfter = b.CreationTime.Add(time.Duration(365*24*familyExpirationYears) * time.Hour)
		cert.IsCA = true
		cert.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		cert.CRLDistributionPoints = []string{dice.DiceRootCRLURL()}
	case DeviceIDPosition:
		cert.Subject = intelPkixName(fmt.Sprintf("Intel:%s:%s:DeviceID", family, b.uid()))
		cert.NotAfter = b.CreationTime.Add(time.Duration(365*24*deviceIDExpirationYears) * time.Hour)
		cert.IsCA = true
		cert.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		cert.UnknownExtKeyUsage = []asn1.ObjectIdentifier{dice.OidKpIdentityInit}
		cert.CRLDistributionPoints = []string{dice.FamilyCRLURL(family)}
	case AliasPosition:
		cert.Subject = intelPkixName(fmt.Sprintf("Intel:%s:%s:FirmwareAlias", family, b.uid()))
		cert.NotAfter = b.CreationTime.Add(time.Duration(365*24*aliasExpirationYears) * time.Hour)
		cert.KeyUsage = x509.KeyUsageDigitalSignature
		cert.UnknownExtKeyUsage = []asn1.ObjectIdentifier{dice.OidKpAttestLoc}
	}
	cert.BasicConstraintsValid = true
	return cert
}

func (b *DiceSignerBuilder) custom(position int) CertOverride {
	return [chainLength]CertOverride{b.AliasCustom, b.DeviceIDCustom, b.FamilyCustom, b.RootCustom}[position]
}

func (b *DiceSignerBuilder) aliasExtensions() ([]pkix.Extension, error) {
	infos := b.AliasTcbInfos
	if infos == nil {
		infos = []tcbinfo.TcbInfo{(&tcbinfo.Builder{}).
			Vendor(tcbinfo.Vendor).
			Model(b.productFamily()).
			Layer(tcbinfo.MeasurementLayer).
			Index(tcbinfo.UntypedIndex).
			Fwids(tcbinfo.NewFwIdField("2.16.840.1.101.3.4.2.2", strings.Repeat("ab", 48))).
			Build()}
	}
	ext, err := dice.MultiTcbInfoExtension(infos)
	if err != nil {
		return nil, err
	}
	return []pkix.Extension{ext}, nil
}

// certify signs the certificate at position with the key of the next position. Must be called
// from the root down.
func (b *DiceSignerBuilder) certify(position int) error {
	cert := b.precert(position)
	if position == AliasPosition {
		exts, err := b.aliasExtensions()
		if err != nil {
			return fmt.Errorf("could not encode alias TcbInfo extensions: %v", err)
		}
		cert.ExtraExtensions = exts
	}
	b.custom(position).override(cert)

	parent, parentKey := cert, b.Keys.at(position)
	if position != RootPosition {
		parent, parentKey = b.certs[position+1], b.Keys.at(position+1)
	}
	der, err := x509.CreateCertificate(insecureRandomness, cert, parent, b.Keys.at(position).Public(), parentKey)
	if err != nil {
		return fmt.Errorf("could not create a certificate from %v: %v", cert.Subject, err)
	}
	signed, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}
	b.certs[position] = signed
	return nil
}

// IssueCRL creates a DER CRL signed by issuer that revokes the given serial numbers.
func IssueCRL(issuer *x509.Certificate, key *ecdsa.PrivateKey, thisUpdate time.Time, revoked ...*big.Int) ([]byte, error) {
	template := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: thisUpdate,
		NextUpdate: thisUpdate.Add(crlValidity),
	}
	for _, serial := range revoked {
		template.RevokedCertificateEntries = append(template.RevokedCertificateEntries,
			x509.RevocationListEntry{SerialNumber: serial, RevocationTime: thisUpdate})
	}
	return x509.CreateRevocationList(insecureRandomness, template, issuer, key)
}

func (b *DiceSignerBuilder) issueCRLs() (map[string][]byte, error) {
	crls := make(map[string][]byte)
	for position := AliasPosition; position < RootPosition; position++ {
		for _, url := range b.certs[position].CRLDistributionPoints {
			if _, ok := crls[url]; ok {
				continue
			}
			signer := position + 1
			if custom, ok := b.CRLIssuers[url]; ok {
				signer = custom
			}
			if signer < 0 || signer >= chainLength {
				return nil, fmt.Errorf("CRL issuer position %d for %s is outside the chain", signer, url)
			}
			der, err := IssueCRL(b.certs[signer], b.Keys.at(signer), b.CreationTime, b.Revoked[url]...)
			if err != nil {
				return nil, fmt.Errorf("could not issue CRL for %s: %v", url, err)
			}
			crls[url] = der
		}
	}
	return crls, nil
}

// TestOnlyCertChain creates a test-only certificate chain from the keys and configurables in b.
func (b *DiceSignerBuilder) TestOnlyCertChain() (*DiceSigner, error) {
	if b.Keys == nil {
		b.Keys = DefaultDiceKeys()
	}
	if b.CreationTime.IsZero() {
		b.CreationTime = time.Now()
	}
	names := [chainLength]string{"alias", "device id", "family", "root"}
	for position := RootPosition; position >= AliasPosition; position-- {
		if err := b.certify(position); err != nil {
			return nil, fmt.Errorf("%s creation error: %v", names[position], err)
		}
	}
	crls, err := b.issueCRLs()
	if err != nil {
		return nil, err
	}
	return &DiceSigner{
		Alias:    b.certs[AliasPosition],
		DeviceID: b.certs[DeviceIDPosition],
		Family:   b.certs[FamilyPosition],
		Root:     b.certs[RootPosition],
		Keys:     b.Keys,
		UID:      b.uid(),
		CRLs:     crls,
	}, nil
}

// DefaultTestOnlyCertChain creates a test-only certificate chain for a fake device.
func DefaultTestOnlyCertChain(family string, creationTime time.Time) (*DiceSigner, error) {
	b := &DiceSignerBuilder{
		Keys:          DefaultDiceKeys(),
		ProductFamily: family,
		CreationTime:  creationTime,
	}
	return b.TestOnlyCertChain()
}

// SubjectKeyID returns the hex subject key identifier of cert as used in trusted services URLs.
func SubjectKeyID(cert *x509.Certificate) string {
	return hex.EncodeToString(cert.SubjectKeyId)
}
