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
	"math/big"
	"testing"
	"time"

	"github.com/google/go-fpga-attest/abi"
	"github.com/google/go-fpga-attest/dice"
)

func TestCertificatesParse(t *testing.T) {
	signer, err := DefaultTestOnlyCertChain("agilex", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	pems, err := signer.ChainPEM()
	if err != nil {
		t.Fatal(err)
	}
	chain, err := dice.ParseCertChain(pems)
	if err != nil {
		t.Fatalf("ParseCertChain(fake chain) = %v", err)
	}
	if len(chain) != 4 {
		t.Fatalf("fake chain has %d certificates, want 4", len(chain))
	}
	for i := 0; i+1 < len(chain); i++ {
		if err := chain[i].CheckSignatureFrom(chain[i+1]); err != nil {
			t.Errorf("certificate %d is not signed by certificate %d: %v", i, i+1, err)
		}
	}
	infos, err := dice.CertificateTcbInfos(signer.Alias)
	if err != nil || len(infos) != 1 {
		t.Errorf("CertificateTcbInfos(alias) = %v, %v. Want 1 entry", infos, err)
	}
	if _, ok := dice.DistributionPoint(signer.Alias); ok {
		t.Error("alias certificate has a distribution point, want none")
	}
}

func TestCertificatesCRLs(t *testing.T) {
	revoked := big.NewInt(42)
	b := &DiceSignerBuilder{
		ProductFamily: "agilex",
		Revoked:       map[string][]*big.Int{dice.FamilyCRLURL("agilex"): {revoked}},
		CRLIssuers:    map[string]int{dice.FamilyCRLURL("agilex"): RootPosition},
	}
	s, err := b.TestOnlyCertChain()
	if err != nil {
		t.Fatal(err)
	}
	if len(s.CRLs) != 2 {
		t.Errorf("fake chain published %d CRLs, want 2", len(s.CRLs))
	}
	crl, err := s.CRL(dice.FamilyCRLURL("agilex"))
	if err != nil {
		t.Fatal(err)
	}
	if err := crl.CheckSignatureFrom(s.Root); err != nil {
		t.Errorf("family CRL is not signed by the root: %v", err)
	}
	if len(crl.RevokedCertificateEntries) != 1 || crl.RevokedCertificateEntries[0].SerialNumber.Cmp(revoked) != 0 {
		t.Errorf("family CRL revokes %v, want only %v", crl.RevokedCertificateEntries, revoked)
	}
	rootCRL, err := s.CRL(dice.DiceRootCRLURL())
	if err != nil {
		t.Fatal(err)
	}
	if err := rootCRL.CheckSignatureFrom(s.Root); err != nil {
		t.Errorf("root CRL is not signed by the root: %v", err)
	}
}

func TestFakeTSCI(t *testing.T) {
	s, err := DefaultTestOnlyCertChain("agilex", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	tsci := FakeTSCIFromSigner(s)
	got, err := tsci.Get(dice.DiceRootCRLURL())
	if err != nil || string(got) != string(s.CRLs[dice.DiceRootCRLURL()]) {
		t.Errorf("Get(root CRL) = %v, %v. Want the published CRL", got, err)
	}
	if _, err := tsci.Get(dice.FamilyCRLURL("stratix")); err == nil {
		t.Error("Get(unpublished CRL) = nil error, want 404")
	}
	if n := tsci.Requests(dice.DiceRootCRLURL()); n != 1 {
		t.Errorf("Requests(root CRL) = %d, want 1", n)
	}
}

func TestDeviceCommands(t *testing.T) {
	d := &Device{
		Certificates: map[abi.CertificateRequestType][]byte{abi.FirmwareCertificate: {1, 2, 3, 4}},
	}
	w := abi.NewWriter(abi.Firmware)
	word, err := abi.MailboxHeader{ClientID: 1, LengthWords: 1, Code: uint16(abi.CommandGetAttestationCertificate)}.Word()
	if err != nil {
		t.Fatal(err)
	}
	w.AddUint32(abi.MailboxHeaderWord, word)
	w.AddUint32(abi.CertificateRequestWord, uint32(abi.FirmwareCertificate))
	command, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	resp, err := d.SendCommand(command)
	if err != nil {
		t.Fatal(err)
	}
	r := abi.NewReader(resp, abi.Firmware)
	got, err := r.ReadUint32(abi.MailboxHeaderWord)
	if err != nil {
		t.Fatal(err)
	}
	header := abi.ParseMailboxHeader(got)
	if header.Status() != abi.MailboxOK || header.LengthWords != 1 || header.ClientID != 1 {
		t.Errorf("response header = %+v, want OK with 1 word for client 1", header)
	}
	if len(d.Sent) != 1 {
		t.Errorf("Sent has %d commands, want 1", len(d.Sent))
	}
}
