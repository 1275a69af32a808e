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

// Package evidence converts device measurement records and reference manifest entries into
// TcbInfo values.
package evidence

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-fpga-attest/abi"
	"github.com/google/go-fpga-attest/tcbinfo"
	"github.com/google/logger"
)

// MappingError is returned when a measurement record cannot be represented as a TcbInfo.
type MappingError struct {
	error
	Section abi.SectionType
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %v measurement failed: %v", e.Section, e.error)
}

// Unwrap returns the underlying cause.
func (e *MappingError) Unwrap() error { return e.error }

// MeasurementType returns the TYPE value of measurements of section s.
func MeasurementType(s abi.SectionType) string {
	return fmt.Sprintf("%s.%d", tcbinfo.MeasurementTypesOID, uint8(s))
}

// MapMeasurementRecord converts one measurement record to a TcbInfo. Device state payloads become
// VENDOR_INFO; every other payload is a digest whose algorithm is inferred from the header's
// measurement size.
func MapMeasurementRecord(header abi.RecordHeader, payload []byte, sectionType abi.SectionType) (tcbinfo.TcbInfo, error) {
	b := (&tcbinfo.Builder{}).
		Vendor(tcbinfo.Vendor).
		Type(MeasurementType(sectionType)).
		Layer(tcbinfo.MeasurementLayer)

	if sectionType == abi.SectionPR {
		b.Index(header.SectionIndex())
	}

	data := hex.EncodeToString(payload)
	if sectionType == abi.SectionDeviceState {
		b.VendorInfo(tcbinfo.NewMaskedVendorInfo(data, ""))
		return b.Build(), nil
	}
	alg, err := abi.FwidHashAlgorithmFromSize(header.MeasurementSize())
	if err != nil {
		return tcbinfo.TcbInfo{}, &MappingError{error: fmt.Errorf("parsing fwid hash algorithm failed: %w", err), Section: sectionType}
	}
	b.Fwids(tcbinfo.NewFwIdField(alg.OID.String(), data))
	return b.Build(), nil
}

// MapMeasurementRecords maps every record, stopping at the first that cannot be mapped.
func MapMeasurementRecords(records []*abi.MeasurementRecord) ([]tcbinfo.TcbInfo, error) {
	result := make([]tcbinfo.TcbInfo, 0, len(records))
	for i, rec := range records {
		info, err := MapMeasurementRecord(rec.Header, rec.Payload, rec.Type)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		result = append(result, info)
	}
	return result, nil
}

// FwId is a digest entry of a reference manifest block.
type FwId struct {
	HashAlg string `json:"hashAlg" yaml:"hashAlg" cbor:"1,keyasint"`
	Digest  string `json:"digest" yaml:"digest" cbor:"2,keyasint"`
}

// EvidenceBlock is one measurement of a reference integrity manifest. Every field is optional.
type EvidenceBlock struct {
	Vendor         string `json:"vendor,omitempty" yaml:"vendor,omitempty" cbor:"1,keyasint,omitempty"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty" cbor:"2,keyasint,omitempty"`
	Layer          string `json:"layer,omitempty" yaml:"layer,omitempty" cbor:"3,keyasint,omitempty"`
	Index          *int   `json:"index,omitempty" yaml:"index,omitempty" cbor:"4,keyasint,omitempty"`
	Fwids          []FwId `json:"fwids,omitempty" yaml:"fwids,omitempty" cbor:"5,keyasint,omitempty"`
	VendorInfo     string `json:"vendorInfo,omitempty" yaml:"vendorInfo,omitempty" cbor:"6,keyasint,omitempty"`
	VendorInfoMask string `json:"vendorInfoMask,omitempty" yaml:"vendorInfoMask,omitempty" cbor:"7,keyasint,omitempty"`
	Type           string `json:"type,omitempty" yaml:"type,omitempty" cbor:"8,keyasint,omitempty"`
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

// MapEvidenceBlock converts a manifest block to a TcbInfo. Blank strings are treated as absent.
// Only the first digest is used. block is not modified.
//
// Single value untyped measurements of older devices are recorded in certificates with INDEX 0,
// but manifests omit the index. An Intel block with a MODEL and neither TYPE nor INDEX is
// therefore given INDEX 0 so the two forms compare equal. A block with no fields at all is the
// degenerate form of the same measurement and is treated the same way.
func MapEvidenceBlock(block EvidenceBlock) tcbinfo.TcbInfo {
	b := &tcbinfo.Builder{}
	if !isBlank(block.Vendor) {
		b.Vendor(block.Vendor)
	}
	if !isBlank(block.Model) {
		b.Model(block.Model)
	}
	if !isBlank(block.Layer) {
		layer, err := strconv.Atoi(strings.TrimSpace(block.Layer))
		if err != nil {
			logger.Warningf("ignoring evidence block layer %q: %v", block.Layer, err)
		} else {
			b.Layer(layer)
		}
	}
	if block.Index != nil {
		b.Index(*block.Index)
	}
	if len(block.Fwids) > 0 {
		b.Fwids(tcbinfo.NewFwIdField(block.Fwids[0].HashAlg, block.Fwids[0].Digest))
	}
	if !isBlank(block.VendorInfo) {
		mask := block.VendorInfoMask
		if isBlank(mask) {
			mask = ""
		}
		b.VendorInfo(tcbinfo.NewMaskedVendorInfo(block.VendorInfo, mask))
	}
	if !isBlank(block.Type) {
		b.Type(strings.ToUpper(block.Type))
	}

	built := b.Build()
	if isUntypedIntelMeasurement(built) || built.Len() == 0 {
		b.Index(tcbinfo.UntypedIndex)
	}
	return b.Build()
}

func isUntypedIntelMeasurement(t tcbinfo.TcbInfo) bool {
	vendor, _ := t.Vendor()
	return !t.Has(tcbinfo.FieldType) &&
		t.Has(tcbinfo.FieldModel) &&
		!t.Has(tcbinfo.FieldIndex) &&
		vendor == tcbinfo.Vendor
}

// MapEvidenceBlocks maps every block of a manifest.
func MapEvidenceBlocks(blocks []EvidenceBlock) []tcbinfo.TcbInfo {
	result := make([]tcbinfo.TcbInfo, len(blocks))
	for i, block := range blocks {
		result[i] = MapEvidenceBlock(block)
	}
	return result
}
