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

// Package tcbinfo defines the canonical form that device measurements and reference manifest
// entries are both converted to before they are compared.
package tcbinfo

import (
	"fmt"
	"strings"
)

const (
	// Vendor is the organization identifier of Intel FPGA measurements.
	Vendor = "intel.com"
	// MeasurementTypesOID is the base of every measurement TYPE value.
	MeasurementTypesOID = "2.16.840.1.113741.1.15.4"
	// MeasurementLayer is the DICE layer that device measurement records belong to.
	MeasurementLayer = 2
	// UntypedIndex is the index certificates record for single value untyped measurements.
	UntypedIndex = 0
)

// Field is one slot of a TcbInfo.
type Field int

// Fields in declaration order.
const (
	FieldVendor Field = iota
	FieldModel
	FieldLayer
	FieldIndex
	FieldFwids
	FieldType
	FieldVendorInfo
	FieldVendorInfoMask
	numFields
)

var fieldNames = [numFields]string{
	"VENDOR", "MODEL", "LAYER", "INDEX", "FWIDS", "TYPE", "VENDOR_INFO", "VENDOR_INFO_MASK",
}

func (f Field) String() string {
	if f >= 0 && f < numFields {
		return fieldNames[f]
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// AllFields returns every field in declaration order.
func AllFields() []Field {
	result := make([]Field, numFields)
	for i := range result {
		result[i] = Field(i)
	}
	return result
}

// FwIdField is a firmware id: the OID of a hash algorithm and a hex digest. Both are uppercase.
type FwIdField struct {
	HashAlg string `json:"hashAlg" yaml:"hashAlg"`
	Digest  string `json:"digest" yaml:"digest"`
}

// NewFwIdField normalizes hashAlg and digest to uppercase.
func NewFwIdField(hashAlg, digest string) FwIdField {
	return FwIdField{HashAlg: strings.ToUpper(hashAlg), Digest: strings.ToUpper(digest)}
}

func (f FwIdField) String() string {
	return fmt.Sprintf("%s:%s", f.HashAlg, f.Digest)
}

// TcbInfo is an immutable set of optional measurement fields. The zero value has no fields set.
// TcbInfo values are comparable with ==.
type TcbInfo struct {
	present        uint16
	vendor         string
	model          string
	layer          int
	index          int
	fwids          FwIdField
	typ            string
	vendorInfo     MaskedVendorInfo
	vendorInfoMask string
}

// Has reports whether f is set.
func (t TcbInfo) Has(f Field) bool { return t.present&(1<<uint(f)) != 0 }

// Len returns the number of fields that are set.
func (t TcbInfo) Len() int {
	n := 0
	for f := Field(0); f < numFields; f++ {
		if t.Has(f) {
			n++
		}
	}
	return n
}

// Fields returns the set fields in declaration order.
func (t TcbInfo) Fields() []Field {
	var result []Field
	for f := Field(0); f < numFields; f++ {
		if t.Has(f) {
			result = append(result, f)
		}
	}
	return result
}

// Vendor returns the VENDOR field.
func (t TcbInfo) Vendor() (string, bool) { return t.vendor, t.Has(FieldVendor) }

// Model returns the MODEL field.
func (t TcbInfo) Model() (string, bool) { return t.model, t.Has(FieldModel) }

// Layer returns the LAYER field.
func (t TcbInfo) Layer() (int, bool) { return t.layer, t.Has(FieldLayer) }

// Index returns the INDEX field.
func (t TcbInfo) Index() (int, bool) { return t.index, t.Has(FieldIndex) }

// Fwids returns the FWIDS field.
func (t TcbInfo) Fwids() (FwIdField, bool) { return t.fwids, t.Has(FieldFwids) }

// Type returns the TYPE field.
func (t TcbInfo) Type() (string, bool) { return t.typ, t.Has(FieldType) }

// VendorInfo returns the VENDOR_INFO field.
func (t TcbInfo) VendorInfo() (MaskedVendorInfo, bool) { return t.vendorInfo, t.Has(FieldVendorInfo) }

// VendorInfoMask returns the VENDOR_INFO_MASK field.
func (t TcbInfo) VendorInfoMask() (string, bool) { return t.vendorInfoMask, t.Has(FieldVendorInfoMask) }

// Get returns the value of f as an untyped value, for display.
func (t TcbInfo) Get(f Field) (any, bool) {
	if !t.Has(f) {
		return nil, false
	}
	switch f {
	case FieldVendor:
		return t.vendor, true
	case FieldModel:
		return t.model, true
	case FieldLayer:
		return t.layer, true
	case FieldIndex:
		return t.index, true
	case FieldFwids:
		return t.fwids, true
	case FieldType:
		return t.typ, true
	case FieldVendorInfo:
		return t.vendorInfo, true
	case FieldVendorInfoMask:
		return t.vendorInfoMask, true
	}
	return nil, false
}

// Key returns the fields that name a measurement (vendor, model, layer, index and type) without
// the measured values. Two TcbInfos describe the same measurement iff their keys are equal.
func (t TcbInfo) Key() TcbInfo {
	const keyFields = 1<<uint(FieldVendor) | 1<<uint(FieldModel) | 1<<uint(FieldLayer) |
		1<<uint(FieldIndex) | 1<<uint(FieldType)
	return TcbInfo{
		present: t.present & keyFields,
		vendor:  t.vendor,
		model:   t.model,
		layer:   t.layer,
		index:   t.index,
		typ:     t.typ,
	}
}

// Equal reports whether t and o have the same fields set to the same values.
func (t TcbInfo) Equal(o TcbInfo) bool { return t == o }

func (t TcbInfo) String() string {
	var parts []string
	for _, f := range t.Fields() {
		v, _ := t.Get(f)
		parts = append(parts, fmt.Sprintf("%v: %v", f, v))
	}
	return "TcbInfo{" + strings.Join(parts, ", ") + "}"
}

// Builder accumulates fields for a TcbInfo. Setting a field twice keeps the last value.
type Builder struct {
	t TcbInfo
}

func (b *Builder) mark(f Field) *Builder {
	b.t.present |= 1 << uint(f)
	return b
}

// Has reports whether f has been set.
func (b *Builder) Has(f Field) bool { return b.t.Has(f) }

// Vendor sets VENDOR.
func (b *Builder) Vendor(v string) *Builder { b.t.vendor = v; return b.mark(FieldVendor) }

// Model sets MODEL.
func (b *Builder) Model(v string) *Builder { b.t.model = v; return b.mark(FieldModel) }

// Layer sets LAYER.
func (b *Builder) Layer(v int) *Builder { b.t.layer = v; return b.mark(FieldLayer) }

// Index sets INDEX.
func (b *Builder) Index(v int) *Builder { b.t.index = v; return b.mark(FieldIndex) }

// Fwids sets FWIDS.
func (b *Builder) Fwids(v FwIdField) *Builder { b.t.fwids = v; return b.mark(FieldFwids) }

// Type sets TYPE.
func (b *Builder) Type(v string) *Builder { b.t.typ = v; return b.mark(FieldType) }

// VendorInfo sets VENDOR_INFO.
func (b *Builder) VendorInfo(v MaskedVendorInfo) *Builder {
	b.t.vendorInfo = v
	return b.mark(FieldVendorInfo)
}

// VendorInfoMask sets VENDOR_INFO_MASK.
func (b *Builder) VendorInfoMask(v string) *Builder {
	b.t.vendorInfoMask = v
	return b.mark(FieldVendorInfoMask)
}

// Build returns the accumulated TcbInfo. The builder may continue to be used; later changes do
// not affect values already built.
func (b *Builder) Build() TcbInfo { return b.t }
