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

// View is the serializable form of a TcbInfo. Unset fields are nil and omitted.
type View struct {
	Vendor         *string           `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Model          *string           `json:"model,omitempty" yaml:"model,omitempty"`
	Layer          *int              `json:"layer,omitempty" yaml:"layer,omitempty"`
	Index          *int              `json:"index,omitempty" yaml:"index,omitempty"`
	Fwids          *FwIdField        `json:"fwids,omitempty" yaml:"fwids,omitempty"`
	Type           *string           `json:"type,omitempty" yaml:"type,omitempty"`
	VendorInfo     *MaskedVendorInfo `json:"vendorInfo,omitempty" yaml:"vendorInfo,omitempty"`
	VendorInfoMask *string           `json:"vendorInfoMask,omitempty" yaml:"vendorInfoMask,omitempty"`
}

// View returns the serializable form of t.
func (t TcbInfo) View() View {
	var v View
	if s, ok := t.Vendor(); ok {
		v.Vendor = &s
	}
	if s, ok := t.Model(); ok {
		v.Model = &s
	}
	if n, ok := t.Layer(); ok {
		v.Layer = &n
	}
	if n, ok := t.Index(); ok {
		v.Index = &n
	}
	if f, ok := t.Fwids(); ok {
		v.Fwids = &f
	}
	if s, ok := t.Type(); ok {
		v.Type = &s
	}
	if m, ok := t.VendorInfo(); ok {
		v.VendorInfo = &m
	}
	if s, ok := t.VendorInfoMask(); ok {
		v.VendorInfoMask = &s
	}
	return v
}

// TcbInfo converts the view back. Fwids and VendorInfo are normalized to uppercase.
func (v View) TcbInfo() TcbInfo {
	b := &Builder{}
	if v.Vendor != nil {
		b.Vendor(*v.Vendor)
	}
	if v.Model != nil {
		b.Model(*v.Model)
	}
	if v.Layer != nil {
		b.Layer(*v.Layer)
	}
	if v.Index != nil {
		b.Index(*v.Index)
	}
	if v.Fwids != nil {
		b.Fwids(NewFwIdField(v.Fwids.HashAlg, v.Fwids.Digest))
	}
	if v.Type != nil {
		b.Type(*v.Type)
	}
	if v.VendorInfo != nil {
		b.VendorInfo(NewMaskedVendorInfo(v.VendorInfo.VendorInfo, v.VendorInfo.Mask))
	}
	if v.VendorInfoMask != nil {
		b.VendorInfoMask(*v.VendorInfoMask)
	}
	return b.Build()
}
