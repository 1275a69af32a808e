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

package verify

import (
	"crypto/x509"
	"encoding/asn1"
)

var extKeyUsageOIDs = map[x509.ExtKeyUsage]asn1.ObjectIdentifier{
	x509.ExtKeyUsageServerAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 1},
	x509.ExtKeyUsageClientAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 2},
	x509.ExtKeyUsageCodeSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 3},
	x509.ExtKeyUsageEmailProtection: {1, 3, 6, 1, 5, 5, 7, 3, 4},
	x509.ExtKeyUsageTimeStamping:    {1, 3, 6, 1, 5, 5, 7, 3, 8},
	x509.ExtKeyUsageOCSPSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 9},
}

// extKeyUsages returns every extended key usage of cert as an OID. The x509 package moves the
// purposes it knows out of UnknownExtKeyUsage.
func extKeyUsages(cert *x509.Certificate) []asn1.ObjectIdentifier {
	result := append([]asn1.ObjectIdentifier{}, cert.UnknownExtKeyUsage...)
	for _, usage := range cert.ExtKeyUsage {
		if oid, ok := extKeyUsageOIDs[usage]; ok {
			result = append(result, oid)
		}
	}
	return result
}

// ExtendedKeyUsage returns true if cert has an extended key usage extension that lists at least
// one of purposes.
func ExtendedKeyUsage(cert *x509.Certificate, purposes ...asn1.ObjectIdentifier) bool {
	for _, usage := range extKeyUsages(cert) {
		for _, purpose := range purposes {
			if usage.Equal(purpose) {
				return true
			}
		}
	}
	return false
}
