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

// Package client (in testing) allows tests to get a fake or real FPGA device transport.
package client

import (
	"flag"
	"testing"

	"github.com/google/go-fpga-attest/abi"
	"github.com/google/go-fpga-attest/client"
	test "github.com/google/go-fpga-attest/testing"
	"github.com/google/go-fpga-attest/verify/trust"
)

var hpsConfig = flag.String("hps_config", "", "If set, tests talk to a real device through the HPS at this \"host:<h>; port:<p>\" address")

// UseFakeDevice returns whether tests run against the in-memory fake device.
func UseFakeDevice() bool {
	return *hpsConfig == ""
}

// GetDevice is a cross-platform testing helper function that retrieves the appropriate device
// transport from the flags passed into "go test".
//
// If using a fake device, its certificates come from a fake DICE chain whose CRLs are published
// by the returned getter. On real hardware the signer is nil and the getter reaches the live
// trusted services.
func GetDevice(tb testing.TB, signer *test.DiceSigner) (client.Transport, trust.HTTPSGetter) {
	tb.Helper()
	if UseFakeDevice() {
		if signer == nil {
			tb.Fatal("a fake device needs a signer")
		}
		d := &test.Device{
			Certificates: map[abi.CertificateRequestType][]byte{
				abi.UDSEfuseAliasCertificate:      signer.Alias.Raw,
				abi.DeviceIDEnrollmentCertificate: signer.DeviceID.Raw,
			},
		}
		return d, test.GetTSCI(tb, signer)
	}
	t, err := client.NewHPSTransport(*hpsConfig)
	if err != nil {
		tb.Fatalf("Failed to configure HPS transport: %v", err)
	}
	tb.Cleanup(func() { t.Close() })
	return t, trust.DefaultHTTPSGetter()
}
