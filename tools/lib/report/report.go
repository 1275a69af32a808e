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

// Package report provides functions for reading and writing measurements and certificate chains
// in various formats.
package report

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/go-fpga-attest/dice"
	"github.com/google/go-fpga-attest/tcbinfo"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Outforms lists the accepted output formats.
var Outforms = []string{"text", "json", "yaml"}

func views(ts []tcbinfo.TcbInfo) []tcbinfo.View {
	result := make([]tcbinfo.View, len(ts))
	for i, t := range ts {
		result[i] = t.View()
	}
	return result
}

// Marshal encodes v as indented json or as yaml.
func Marshal(v any, outform string) ([]byte, error) {
	switch outform {
	case "json":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case "yaml":
		return yaml.Marshal(v)
	}
	return nil, fmt.Errorf("unknown outform: %q", outform)
}

// TcbInfos returns the measurements in the outform format.
func TcbInfos(ts []tcbinfo.TcbInfo, outform string) ([]byte, error) {
	if outform != "text" {
		return Marshal(views(ts), outform)
	}
	var buf bytes.Buffer
	for _, t := range ts {
		fmt.Fprintln(&buf, t)
	}
	return buf.Bytes(), nil
}

// ParseTcbInfos reads measurements written by TcbInfos in json or yaml form.
func ParseTcbInfos(b []byte, inform string) ([]tcbinfo.TcbInfo, error) {
	var vs []tcbinfo.View
	var err error
	switch inform {
	case "json":
		err = json.Unmarshal(b, &vs)
	case "yaml":
		err = yaml.Unmarshal(b, &vs)
	default:
		return nil, fmt.Errorf("unknown inform: %q", inform)
	}
	if err != nil {
		return nil, fmt.Errorf("could not parse %s measurements: %v", inform, err)
	}
	result := make([]tcbinfo.TcbInfo, len(vs))
	for i, v := range vs {
		result[i] = v.TcbInfo()
	}
	return result, nil
}

// Certificate is the summary of one chain certificate.
type Certificate struct {
	Subject           string         `json:"subject" yaml:"subject"`
	Issuer            string         `json:"issuer" yaml:"issuer"`
	SerialNumber      string         `json:"serialNumber" yaml:"serialNumber"`
	SubjectKeyID      string         `json:"subjectKeyId,omitempty" yaml:"subjectKeyId,omitempty"`
	NotBefore         time.Time      `json:"notBefore" yaml:"notBefore"`
	NotAfter          time.Time      `json:"notAfter" yaml:"notAfter"`
	DistributionPoint string         `json:"crlDistributionPoint,omitempty" yaml:"crlDistributionPoint,omitempty"`
	TcbInfos          []tcbinfo.View `json:"tcbInfos,omitempty" yaml:"tcbInfos,omitempty"`
}

func summarize(cert *x509.Certificate) (Certificate, error) {
	ts, err := dice.CertificateTcbInfos(cert)
	c := Certificate{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: hex.EncodeToString(cert.SerialNumber.Bytes()),
		SubjectKeyID: hex.EncodeToString(cert.SubjectKeyId),
		NotBefore:    cert.NotBefore.UTC(),
		NotAfter:     cert.NotAfter.UTC(),
		TcbInfos:     views(ts),
	}
	if dp, ok := dice.DistributionPoint(cert); ok {
		c.DistributionPoint = dp
	}
	return c, err
}

func chainText(certs []Certificate) []byte {
	var buf bytes.Buffer
	for i, c := range certs {
		fmt.Fprintf(&buf, "[%d] subject=%s\n", i, c.Subject)
		fmt.Fprintf(&buf, "    issuer=%s\n", c.Issuer)
		fmt.Fprintf(&buf, "    serial=%s\n", c.SerialNumber)
		fmt.Fprintf(&buf, "    validity=%s..%s\n", c.NotBefore.Format(time.RFC3339), c.NotAfter.Format(time.RFC3339))
		if c.DistributionPoint != "" {
			fmt.Fprintf(&buf, "    crl=%s\n", c.DistributionPoint)
		}
		for _, v := range c.TcbInfos {
			fmt.Fprintf(&buf, "    %v\n", v.TcbInfo())
		}
	}
	return buf.Bytes()
}

// Chain returns a leaf-first summary of chain in the outform format. Certificates whose
// measurement extensions do not parse are still summarized, and the parse errors are returned
// combined.
func Chain(chain []*x509.Certificate, outform string) ([]byte, error) {
	certs := make([]Certificate, len(chain))
	var errs error
	for i, cert := range chain {
		c, err := summarize(cert)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("certificate %d: %v", i, err))
		}
		certs[i] = c
	}
	if outform == "text" {
		return chainText(certs), errs
	}
	out, err := Marshal(certs, outform)
	return out, multierr.Append(errs, err)
}
