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

// Package validate compares observed measurements against reference measurements. It does not
// check certificate signatures or revocation, and it makes no decision about which differences
// are acceptable.
package validate

import (
	"crypto/x509"
	"fmt"

	"github.com/google/go-fpga-attest/dice"
	"github.com/google/go-fpga-attest/tcbinfo"
	"go.uber.org/multierr"
)

// Options represents the expectations observed measurements are compared against.
type Options struct {
	// Reference is the set of expected measurements. Every entry needs exactly one observed
	// measurement with the same key.
	Reference []tcbinfo.TcbInfo
	// PermitUnreferenced if true, allows observed measurements whose key matches no reference
	// entry. If false, each of them is reported as an error.
	PermitUnreferenced bool
}

func groupByKey(ts []tcbinfo.TcbInfo) map[tcbinfo.TcbInfo][]tcbinfo.TcbInfo {
	result := make(map[tcbinfo.TcbInfo][]tcbinfo.TcbInfo, len(ts))
	for _, t := range ts {
		result[t.Key()] = append(result[t.Key()], t)
	}
	return result
}

func validateFwids(observed, reference tcbinfo.TcbInfo) error {
	want, ok := reference.Fwids()
	if !ok {
		return nil
	}
	got, ok := observed.Fwids()
	if !ok {
		return fmt.Errorf("measurement %v has no FWIDS. Expect %v", observed.Key(), want)
	}
	if got != want {
		return fmt.Errorf("measurement %v FWIDS is %v. Expect %v", observed.Key(), got, want)
	}
	return nil
}

func validateVendorInfo(observed, reference tcbinfo.TcbInfo) error {
	want, ok := reference.VendorInfo()
	if !ok {
		return nil
	}
	if err := want.Valid(); err != nil {
		return fmt.Errorf("reference measurement %v: %v", reference.Key(), err)
	}
	got, ok := observed.VendorInfo()
	if !ok {
		return fmt.Errorf("measurement %v has no VENDOR_INFO. Expect %v", observed.Key(), want)
	}
	if !want.Matches(got.VendorInfo) {
		return fmt.Errorf("measurement %v VENDOR_INFO is %s. Expect %v", observed.Key(), got.VendorInfo, want)
	}
	return nil
}

func validateMeasurement(observed []tcbinfo.TcbInfo, reference tcbinfo.TcbInfo) error {
	switch len(observed) {
	case 0:
		return fmt.Errorf("no observed measurement for %v", reference.Key())
	case 1:
	default:
		return fmt.Errorf("found %d observed measurements for %v. Expect 1", len(observed), reference.Key())
	}
	return multierr.Combine(
		validateFwids(observed[0], reference),
		validateVendorInfo(observed[0], reference),
	)
}

// Measurements checks observed against options.Reference and returns every mismatch combined.
func Measurements(observed []tcbinfo.TcbInfo, options *Options) error {
	byKey := groupByKey(observed)
	referenced := make(map[tcbinfo.TcbInfo]bool, len(options.Reference))
	var errs error
	for _, reference := range options.Reference {
		key := reference.Key()
		if referenced[key] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate reference measurement %v", key))
			continue
		}
		referenced[key] = true
		errs = multierr.Append(errs, validateMeasurement(byKey[key], reference))
	}
	if !options.PermitUnreferenced {
		for _, t := range observed {
			if !referenced[t.Key()] {
				errs = multierr.Append(errs, fmt.Errorf("unexpected measurement %v", t.Key()))
			}
		}
	}
	return errs
}

// TcbInfos checks that every reference measurement is observed with matching FWIDS and
// VENDOR_INFO. Observed measurements the reference does not mention are ignored.
func TcbInfos(observed, reference []tcbinfo.TcbInfo) error {
	return Measurements(observed, &Options{Reference: reference, PermitUnreferenced: true})
}

// CertificateChain collects the measurements recorded in every certificate of chain and checks
// them against options.
func CertificateChain(chain []*x509.Certificate, options *Options) error {
	var observed []tcbinfo.TcbInfo
	for i, cert := range chain {
		ts, err := dice.CertificateTcbInfos(cert)
		if err != nil {
			return fmt.Errorf("could not read measurements of certificate %d (%v): %v", i, cert.Subject, err)
		}
		observed = append(observed, ts...)
	}
	return Measurements(observed, options)
}
