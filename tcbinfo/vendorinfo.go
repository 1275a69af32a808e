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

package tcbinfo

import (
	"fmt"
	"strconv"
	"strings"
)

// MaskedVendorInfo is a hex vendor-info string and a hex mask of which of its bits are
// significant. Both are uppercase.
type MaskedVendorInfo struct {
	VendorInfo string `json:"value" yaml:"value"`
	Mask       string `json:"mask" yaml:"mask"`
}

// DefaultMask returns a mask of length hex digits that marks every bit significant.
func DefaultMask(length int) string {
	return strings.Repeat("F", length)
}

// NewMaskedVendorInfo uppercases value and mask. An empty mask becomes DefaultMask(len(value)).
// A non-empty mask is kept as given, even if its length differs from value; Valid reports that.
func NewMaskedVendorInfo(value, mask string) MaskedVendorInfo {
	if mask == "" {
		mask = DefaultMask(len(value))
	}
	return MaskedVendorInfo{VendorInfo: strings.ToUpper(value), Mask: strings.ToUpper(mask)}
}

// Valid returns an error if the vendor info and mask differ in length or are not hex.
func (m MaskedVendorInfo) Valid() error {
	if len(m.VendorInfo) != len(m.Mask) {
		return fmt.Errorf("vendor info has %d digits but mask has %d", len(m.VendorInfo), len(m.Mask))
	}
	for i := 0; i < len(m.VendorInfo); i++ {
		if _, err := nibble(m.VendorInfo[i]); err != nil {
			return fmt.Errorf("vendor info: %v", err)
		}
		if _, err := nibble(m.Mask[i]); err != nil {
			return fmt.Errorf("vendor info mask: %v", err)
		}
	}
	return nil
}

func nibble(c byte) (uint8, error) {
	v, err := strconv.ParseUint(string(c), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%q is not a hex digit", c)
	}
	return uint8(v), nil
}

// Matches reports whether observed agrees with the vendor info on every masked bit. observed is
// compared case-insensitively and must have the same number of digits.
func (m MaskedVendorInfo) Matches(observed string) bool {
	if m.Valid() != nil || len(observed) != len(m.VendorInfo) {
		return false
	}
	observed = strings.ToUpper(observed)
	for i := 0; i < len(observed); i++ {
		o, err := nibble(observed[i])
		if err != nil {
			return false
		}
		want, _ := nibble(m.VendorInfo[i])
		mask, _ := nibble(m.Mask[i])
		if o&mask != want&mask {
			return false
		}
	}
	return true
}

func (m MaskedVendorInfo) String() string {
	return fmt.Sprintf("%s/%s", m.VendorInfo, m.Mask)
}
