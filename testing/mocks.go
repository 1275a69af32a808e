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

package testing

import (
	"crypto/x509"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-fpga-attest/abi"
	"github.com/pkg/errors"
)

// GetResponse controls how often a canned response is returned for a URL.
type GetResponse struct {
	Occurrences uint
	Body        []byte
	Error       error
}

// Getter represents a static server for request/respond url -> body contents. Responses for a URL
// are consumed in order.
type Getter struct {
	Responses map[string][]GetResponse
	mu        sync.Mutex
}

// Get returns the next registered response for a given URL.
func (g *Getter) Get(url string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	responses, ok := g.Responses[url]
	if !ok || len(responses) == 0 {
		return nil, fmt.Errorf("404: %s", url)
	}
	resp := &responses[0]
	resp.Occurrences--
	if resp.Occurrences == 0 {
		g.Responses[url] = responses[1:]
	}
	return resp.Body, resp.Error
}

// Done checks that every registered response has been consumed.
func (g *Getter) Done(t testing.TB) {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	for url, responses := range g.Responses {
		if len(responses) != 0 {
			t.Errorf("%d unconsumed responses for %s", len(responses), url)
		}
	}
}

// CRLProvider serves fixed CRLs and records every request.
type CRLProvider struct {
	CRLs     map[string]*x509.RevocationList
	Errors   map[string]error
	Requests []string
}

// GetCRL returns the CRL or error registered for url.
func (p *CRLProvider) GetCRL(url string) (*x509.RevocationList, error) {
	p.Requests = append(p.Requests, url)
	if err, ok := p.Errors[url]; ok {
		return nil, err
	}
	crl, ok := p.CRLs[url]
	if !ok {
		return nil, fmt.Errorf("404: %s", url)
	}
	return crl, nil
}

// SignatureVerifier records the candidate issuers it is asked about and accepts a CRL only
// when Accept says so.
type SignatureVerifier struct {
	// Accept reports whether issuer signed crl. If nil, every check fails.
	Accept func(crl *x509.RevocationList, issuer *x509.Certificate) bool
	// Calls holds each candidate issuer in call order.
	Calls []*x509.Certificate
}

// AcceptIssuers returns an Accept function that succeeds for the given certificates only.
func AcceptIssuers(issuers ...*x509.Certificate) func(*x509.RevocationList, *x509.Certificate) bool {
	return func(_ *x509.RevocationList, candidate *x509.Certificate) bool {
		for _, issuer := range issuers {
			if issuer == candidate {
				return true
			}
		}
		return false
	}
}

// VerifyCRLSignature records the call and consults Accept.
func (v *SignatureVerifier) VerifyCRLSignature(crl *x509.RevocationList, issuer *x509.Certificate) error {
	v.Calls = append(v.Calls, issuer)
	if v.Accept != nil && v.Accept(crl, issuer) {
		return nil
	}
	return fmt.Errorf("CRL signature does not verify with %v", issuer.Subject)
}

// Device is a fake secure device manager reachable through a mailbox transport. It answers
// GET_ATTESTATION_CERTIFICATE and GET_MEASUREMENT requests with pre-programmed data.
type Device struct {
	// Certificates holds the DER certificate returned for each request type.
	Certificates map[abi.CertificateRequestType][]byte
	// Measurements is the GET_MEASUREMENT response body in firmware order.
	Measurements []byte
	// Status overrides the response status of a command.
	Status map[abi.MailboxCommand]abi.MailboxStatus
	// Err, if set, is returned by every SendCommand call as a transport failure.
	Err error
	// Sent holds every command received.
	Sent [][]byte
}

func (d *Device) respond(clientID uint8, status abi.MailboxStatus, body []byte) ([]byte, error) {
	w := abi.NewWriter(abi.Firmware)
	word, err := abi.MailboxHeader{ClientID: clientID, LengthWords: uint16(len(body) / 4), Code: uint16(status)}.Word()
	if err != nil {
		return nil, err
	}
	w.AddUint32(abi.MailboxHeaderWord, word)
	w.AddBytes(body)
	return w.Bytes()
}

func padWords(b []byte) []byte {
	if rem := len(b) % 4; rem != 0 {
		return append(append([]byte{}, b...), make([]byte, 4-rem)...)
	}
	return b
}

// SendCommand decodes a mailbox command and returns the device response.
func (d *Device) SendCommand(command []byte) ([]byte, error) {
	d.Sent = append(d.Sent, append([]byte{}, command...))
	if d.Err != nil {
		return nil, d.Err
	}
	r := abi.NewReader(command, abi.Firmware)
	word, err := r.ReadUint32(abi.MailboxHeaderWord)
	if err != nil {
		return nil, errors.Wrap(err, "fake device: short command")
	}
	header := abi.ParseMailboxHeader(word)
	code := abi.MailboxCommand(header.Code)
	if status, ok := d.Status[code]; ok {
		return d.respond(header.ClientID, status, nil)
	}
	if r.Remaining() != int(header.LengthWords)*4 {
		return d.respond(header.ClientID, abi.MailboxInvalidLength, nil)
	}
	switch code {
	case abi.CommandGetAttestationCertificate:
		certType, err := r.ReadUint32(abi.CertificateRequestWord)
		if err != nil {
			return d.respond(header.ClientID, abi.MailboxInvalidLength, nil)
		}
		der, ok := d.Certificates[abi.CertificateRequestType(certType)]
		if !ok {
			return d.respond(header.ClientID, abi.MailboxCertificateUnavailable, nil)
		}
		return d.respond(header.ClientID, abi.MailboxOK, padWords(der))
	case abi.CommandGetMeasurement:
		return d.respond(header.ClientID, abi.MailboxOK, padWords(d.Measurements))
	}
	return d.respond(header.ClientID, abi.MailboxInvalidCommand, nil)
}
