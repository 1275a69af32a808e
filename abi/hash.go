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

package abi

import (
	"encoding/asn1"
	"errors"
	"fmt"
)

// FwidHashAlgorithm is a digest algorithm that a firmware id may be computed with.
type FwidHashAlgorithm struct {
	Name string
	OID  asn1.ObjectIdentifier
	Size int
}

var (
	// SHA256 is the NIST SHA-256 algorithm.
	SHA256 = FwidHashAlgorithm{Name: "SHA256", OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, Size: 32}
	// SHA384 is the NIST SHA-384 algorithm, used by current devices.
	SHA384 = FwidHashAlgorithm{Name: "SHA384", OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}, Size: 48}
	// SHA512 is the NIST SHA-512 algorithm.
	SHA512 = FwidHashAlgorithm{Name: "SHA512", OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}, Size: 64}

	fwidHashAlgorithms = []FwidHashAlgorithm{SHA256, SHA384, SHA512}
)

// ErrUnsupportedHashAlgorithm is matched by every UnsupportedHashAlgorithmError.
var ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")

// UnsupportedHashAlgorithmError reports a digest length or OID with no known algorithm.
type UnsupportedHashAlgorithmError struct {
	Size int
	OID  string
}

func (e *UnsupportedHashAlgorithmError) Error() string {
	if e.OID != "" {
		return fmt.Sprintf("%v: OID %s", ErrUnsupportedHashAlgorithm, e.OID)
	}
	return fmt.Sprintf("%v: no algorithm produces %d-byte digests", ErrUnsupportedHashAlgorithm, e.Size)
}

// Is reports whether target is ErrUnsupportedHashAlgorithm.
func (e *UnsupportedHashAlgorithmError) Is(target error) bool {
	return target == ErrUnsupportedHashAlgorithm
}

// FwidHashAlgorithmFromSize returns the algorithm whose digests are size bytes long.
func FwidHashAlgorithmFromSize(size int) (FwidHashAlgorithm, error) {
	for _, alg := range fwidHashAlgorithms {
		if alg.Size == size {
			return alg, nil
		}
	}
	return FwidHashAlgorithm{}, &UnsupportedHashAlgorithmError{Size: size}
}

// FwidHashAlgorithmFromOID returns the algorithm with the given dotted OID.
func FwidHashAlgorithmFromOID(oid string) (FwidHashAlgorithm, error) {
	for _, alg := range fwidHashAlgorithms {
		if alg.OID.String() == oid {
			return alg, nil
		}
	}
	return FwidHashAlgorithm{}, &UnsupportedHashAlgorithmError{OID: oid}
}
