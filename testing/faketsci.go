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
	"flag"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-fpga-attest/dice"
	"github.com/google/go-fpga-attest/verify/trust"
)

var testUseTSCI = flag.Bool("test_use_tsci", false, "If true, tests will attempt to retrieve certificates and CRLs from Intel trusted services")

// TestUseTSCI returns whether tests should use the network to connect the live trusted services.
func TestUseTSCI() bool {
	return *testUseTSCI
}

// FakeTSCI implements the trust.HTTPSGetter interface to serve CRLs and device certificates the
// way Intel's trusted services do, from an in-memory table.
type FakeTSCI struct {
	// Files maps a URL to the bytes published there.
	Files map[string][]byte

	mu       sync.Mutex
	requests map[string]int
}

// FakeTSCIFromSigner returns a FakeTSCI that publishes the fake signer's CRLs and its device id
// certificate.
func FakeTSCIFromSigner(signer *DiceSigner) *FakeTSCI {
	files := make(map[string][]byte, len(signer.CRLs)+1)
	for url, der := range signer.CRLs {
		files[url] = der
	}
	files[dice.DeviceIDCertURL(signer.UID, SubjectKeyID(signer.DeviceID))] = signer.DeviceID.Raw
	return &FakeTSCI{Files: files}
}

// Get returns the file published at url. CRL URLs must be well-formed trusted services
// distribution points.
func (f *FakeTSCI) Get(url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requests == nil {
		f.requests = make(map[string]int)
	}
	f.requests[url]++
	if strings.HasSuffix(url, ".crl") {
		if _, _, err := dice.ParseCRLURL(url); err != nil {
			return nil, err
		}
	}
	contents, ok := f.Files[url]
	if !ok {
		return nil, fmt.Errorf("404: %s", url)
	}
	return contents, nil
}

// Requests returns how many times url was fetched.
func (f *FakeTSCI) Requests(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[url]
}

// GetTSCI returns an HTTPSGetter that can produce the expected CRLs for the given signer in the
// test environment.
func GetTSCI(t testing.TB, signer *DiceSigner) trust.HTTPSGetter {
	t.Helper()
	if TestUseTSCI() {
		return trust.DefaultHTTPSGetter()
	}
	return FakeTSCIFromSigner(signer)
}
