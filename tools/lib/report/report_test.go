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

package report

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-fpga-attest/dice"
	"github.com/google/go-fpga-attest/tcbinfo"
	test "github.com/google/go-fpga-attest/testing"
)

var (
	signer     *test.DiceSigner
	signerOnce sync.Once
)

func initSigner(t *testing.T) *test.DiceSigner {
	t.Helper()
	signerOnce.Do(func() {
		now := time.Date(2022, time.May, 3, 9, 0, 0, 0, time.UTC)
		s, err := test.DefaultTestOnlyCertChain(test.GetProductFamily(), now)
		if err != nil {
			t.Fatalf("could not create fake chain: %v", err)
		}
		signer = s
	})
	if signer == nil {
		t.Fatal("fake chain unavailable")
	}
	return signer
}

func measurements() []tcbinfo.TcbInfo {
	return []tcbinfo.TcbInfo{
		(&tcbinfo.Builder{}).
			Vendor(tcbinfo.Vendor).
			Layer(tcbinfo.MeasurementLayer).
			Index(0).
			Type(tcbinfo.MeasurementTypesOID + ".2").
			Fwids(tcbinfo.NewFwIdField("2.16.840.1.101.3.4.2.2", strings.Repeat("0a", 48))).
			Build(),
		(&tcbinfo.Builder{}).
			Vendor(tcbinfo.Vendor).
			Layer(tcbinfo.MeasurementLayer).
			Type(tcbinfo.MeasurementTypesOID + ".5").
			VendorInfo(tcbinfo.NewMaskedVendorInfo("00000001", "")).
			Build(),
	}
}

func TestTcbInfosRoundTrip(t *testing.T) {
	ts := measurements()
	for _, form := range []string{"json", "yaml"} {
		out, err := TcbInfos(ts, form)
		if err != nil {
			t.Fatalf("TcbInfos(%q) = %v", form, err)
		}
		got, err := ParseTcbInfos(out, form)
		if err != nil {
			t.Fatalf("ParseTcbInfos(%q) = %v", form, err)
		}
		if diff := cmp.Diff(ts, got, cmp.Comparer(tcbinfo.TcbInfo.Equal)); diff != "" {
			t.Errorf("%s round trip differs (-want +got):\n%s", form, diff)
		}
	}
}

func TestTcbInfosText(t *testing.T) {
	out, err := TcbInfos(measurements(), "text")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 {
		t.Fatalf("TcbInfos(text) = %q, want 2 lines", out)
	}
	if !strings.Contains(lines[1], "VENDOR_INFO: 00000001/FFFFFFFF") {
		t.Errorf("TcbInfos(text) line 2 = %q, want the masked vendor info", lines[1])
	}
}

func TestUnknownForms(t *testing.T) {
	if _, err := TcbInfos(measurements(), "textproto"); err == nil {
		t.Error("TcbInfos(textproto) = nil error, want error")
	}
	if _, err := ParseTcbInfos([]byte("[]"), "text"); err == nil {
		t.Error("ParseTcbInfos(text) = nil error, want error")
	}
	if _, err := ParseTcbInfos([]byte("{"), "json"); err == nil {
		t.Error("ParseTcbInfos(bad json) = nil error, want error")
	}
}

func TestChain(t *testing.T) {
	s := initSigner(t)
	out, err := Chain(s.Chain(), "json")
	if err != nil {
		t.Fatalf("Chain(json) = %v", err)
	}
	var certs []Certificate
	if err := json.Unmarshal(out, &certs); err != nil {
		t.Fatal(err)
	}
	if len(certs) != len(s.Chain()) {
		t.Fatalf("Chain(json) has %d certificates, want %d", len(certs), len(s.Chain()))
	}
	alias := certs[test.AliasPosition]
	if len(alias.TcbInfos) != 1 {
		t.Errorf("alias summary has %d measurements, want 1", len(alias.TcbInfos))
	}
	if dp, _ := dice.DistributionPoint(s.Alias); alias.DistributionPoint != dp {
		t.Errorf("alias CRL = %q, want %q", alias.DistributionPoint, dp)
	}
	if certs[test.RootPosition].Subject != s.Root.Subject.String() {
		t.Errorf("last certificate is %q, want the root", certs[test.RootPosition].Subject)
	}

	text, err := Chain(s.Chain(), "text")
	if err != nil {
		t.Fatalf("Chain(text) = %v", err)
	}
	if !strings.Contains(string(text), "[3] subject=") {
		t.Errorf("Chain(text) = %q, want four entries", text)
	}
}
