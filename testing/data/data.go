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

// Package data (in testing) allows tests to access data for testing purpose.
package data

import (
	"crypto/ecdsa"
	"crypto/x509"
	_ "embed"
	"encoding/pem"
	"log"
)

//go:embed keys/root_private_key.pem
var rootPrivateKeyPEM []byte

//go:embed keys/family_private_key.pem
var familyPrivateKeyPEM []byte

//go:embed keys/deviceid_private_key.pem
var deviceIDPrivateKeyPEM []byte

//go:embed keys/alias_private_key.pem
var aliasPrivateKeyPEM []byte

// The keys below are ECDSA P-384 keys used with SHA384 digests.
// Generated using:
//
//	openssl ecparam -genkey -name secp384r1 | openssl pkcs8 -topk8 -nocrypt

// RootPrivateKey signs the fake DICE root certificate and its CRL.
var RootPrivateKey = mustParseECDSAPrivateKey(rootPrivateKeyPEM)

// FamilyPrivateKey signs the fake product family certificate's subordinates.
var FamilyPrivateKey = mustParseECDSAPrivateKey(familyPrivateKeyPEM)

// DeviceIDPrivateKey is the fake device id key.
var DeviceIDPrivateKey = mustParseECDSAPrivateKey(deviceIDPrivateKeyPEM)

// AliasPrivateKey is the fake firmware alias key.
var AliasPrivateKey = mustParseECDSAPrivateKey(aliasPrivateKeyPEM)

func mustParseECDSAPrivateKey(pemBytes []byte) *ecdsa.PrivateKey {
	block, rest := pem.Decode(pemBytes)
	if block == nil {
		log.Fatal("Unable to decode key as PEM")
	}
	if len(rest) > 0 {
		log.Fatal("Unexpected trailing data in key file")
	}
	privateKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		log.Fatalf("Unable to parse PKCS8 private key: %v", err)
	}
	ecPrivateKey, ok := privateKey.(*ecdsa.PrivateKey)
	if !ok {
		log.Fatalf("Unexpected private key type, want ECDSA private key")
	}
	return ecPrivateKey
}
