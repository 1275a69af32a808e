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

package evidence

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-fpga-attest/abi"
	"github.com/google/go-fpga-attest/tcbinfo"
	"github.com/google/logger"
	"github.com/google/uuid"
)

func TestMain(m *testing.M) {
	logger.Init("EvidenceTestLog", false, false, os.Stderr)
	os.Exit(m.Run())
}

func intp(v int) *int { return &v }

func filledBlock() EvidenceBlock {
	return EvidenceBlock{
		Vendor:         "VENDOR",
		Model:          "MODEL",
		Layer:          "11",
		Index:          intp(9),
		Fwids:          []FwId{{HashAlg: "HASH_ALG", Digest: "digest"}},
		VendorInfo:     "VENDOR_INFO",
		VendorInfoMask: "VENDOR_INFO_MASK",
		Type:           "TYPE",
	}
}

func TestMapEvidenceBlockAllEmpty(t *testing.T) {
	got := MapEvidenceBlock(EvidenceBlock{})
	if diff := cmp.Diff([]tcbinfo.Field{tcbinfo.FieldIndex}, got.Fields()); diff != "" {
		t.Errorf("MapEvidenceBlock({}).Fields() differs: %s", diff)
	}
	if index, _ := got.Index(); index != 0 {
		t.Errorf("MapEvidenceBlock({}) INDEX = %d, want 0", index)
	}
}

func TestMapEvidenceBlockAllSet(t *testing.T) {
	got := MapEvidenceBlock(filledBlock())
	want := (&tcbinfo.Builder{}).
		Vendor("VENDOR").
		Model("MODEL").
		Layer(11).
		Index(9).
		Fwids(tcbinfo.FwIdField{HashAlg: "HASH_ALG", Digest: "DIGEST"}).
		Type("TYPE").
		VendorInfo(tcbinfo.MaskedVendorInfo{VendorInfo: "VENDOR_INFO", Mask: "VENDOR_INFO_MASK"}).
		Build()
	if !got.Equal(want) {
		t.Errorf("MapEvidenceBlock() = %v, want %v", got, want)
	}
	if got.Len() != 7 {
		t.Errorf("MapEvidenceBlock() has %d fields, want 7", got.Len())
	}
}

func TestMapEvidenceBlockCasing(t *testing.T) {
	got := MapEvidenceBlock(EvidenceBlock{
		Vendor:     "VeNdOr",
		Model:      "MoDeL",
		Type:       "tYpE",
		Fwids:      []FwId{{HashAlg: "alg", Digest: "abcdef"}, {HashAlg: "ignored", Digest: "00"}},
		VendorInfo: "abcd",
	})
	if v, _ := got.Vendor(); v != "VeNdOr" {
		t.Errorf("VENDOR = %q, want VeNdOr", v)
	}
	if v, _ := got.Model(); v != "MoDeL" {
		t.Errorf("MODEL = %q, want MoDeL", v)
	}
	if v, _ := got.Type(); v != "TYPE" {
		t.Errorf("TYPE = %q, want TYPE", v)
	}
	if v, _ := got.Fwids(); v != (tcbinfo.FwIdField{HashAlg: "ALG", Digest: "ABCDEF"}) {
		t.Errorf("FWIDS = %v, want ALG:ABCDEF", v)
	}
	if v, _ := got.VendorInfo(); v != (tcbinfo.MaskedVendorInfo{VendorInfo: "ABCD", Mask: "FFFF"}) {
		t.Errorf("VENDOR_INFO = %v, want ABCD/FFFF", v)
	}
}

func TestMapEvidenceBlockUntypedWorkaround(t *testing.T) {
	tests := []struct {
		name      string
		block     EvidenceBlock
		wantIndex bool
	}{
		{name: "intel untyped with model", block: EvidenceBlock{Vendor: tcbinfo.Vendor, Model: "Agilex"}, wantIndex: true},
		{name: "intel untyped with model and digest", block: EvidenceBlock{Vendor: tcbinfo.Vendor, Model: "Agilex", Layer: "1", Fwids: []FwId{{HashAlg: "a", Digest: "b"}}}, wantIndex: true},
		{name: "other vendor", block: EvidenceBlock{Vendor: "example.com", Model: "Agilex"}},
		{name: "vendor case differs", block: EvidenceBlock{Vendor: "INTEL.COM", Model: "Agilex"}},
		{name: "absent vendor", block: EvidenceBlock{Model: "Agilex"}},
		{name: "typed", block: EvidenceBlock{Vendor: tcbinfo.Vendor, Model: "Agilex", Type: "1.2.3"}},
		{name: "no model", block: EvidenceBlock{Vendor: tcbinfo.Vendor}},
		{name: "blank model", block: EvidenceBlock{Vendor: tcbinfo.Vendor, Model: "  "}},
	}
	for _, tc := range tests {
		got := MapEvidenceBlock(tc.block)
		index, ok := got.Index()
		if ok != tc.wantIndex || index != 0 {
			t.Errorf("%s: MapEvidenceBlock() INDEX = %d, %v. Want present=%v", tc.name, index, ok, tc.wantIndex)
		}
	}

	explicit := MapEvidenceBlock(EvidenceBlock{Vendor: tcbinfo.Vendor, Model: "Agilex", Index: intp(7)})
	if index, _ := explicit.Index(); index != 7 {
		t.Errorf("explicit INDEX overwritten: got %d, want 7", index)
	}
}

func TestMapEvidenceBlockIdempotent(t *testing.T) {
	block := filledBlock()
	first := MapEvidenceBlock(block)
	second := MapEvidenceBlock(block)
	if !first.Equal(second) {
		t.Errorf("MapEvidenceBlock() not idempotent: %v then %v", first, second)
	}
	if diff := cmp.Diff(filledBlock(), block); diff != "" {
		t.Errorf("MapEvidenceBlock() modified its input: %s", diff)
	}
}

func TestMapEvidenceBlockBadLayer(t *testing.T) {
	got := MapEvidenceBlock(EvidenceBlock{Vendor: "v", Layer: "eleven"})
	if got.Has(tcbinfo.FieldLayer) {
		t.Errorf("MapEvidenceBlock(layer eleven) = %v, want no LAYER", got)
	}
}

func TestMapMeasurementRecord(t *testing.T) {
	digest := bytes.Repeat([]byte{0xab}, 48)
	tests := []struct {
		name    string
		header  abi.RecordHeader
		section abi.SectionType
		payload []byte
		want    tcbinfo.TcbInfo
	}{
		{
			name:    "core v1",
			header:  &abi.MeasurementHeaderV1{Type: abi.SectionCore, Index: 5, Size: 48},
			section: abi.SectionCore,
			payload: digest,
			want: (&tcbinfo.Builder{}).
				Vendor(tcbinfo.Vendor).
				Layer(2).
				Type("2.16.840.1.113741.1.15.4.2").
				Fwids(tcbinfo.NewFwIdField("2.16.840.1.101.3.4.2.2", bytesHex(digest))).
				Build(),
		},
		{
			name:    "pr v2",
			header:  &abi.MeasurementHeaderV2{Type: abi.SectionPR, Index: 3, SizeWords: 8},
			section: abi.SectionPR,
			payload: digest[:32],
			want: (&tcbinfo.Builder{}).
				Vendor(tcbinfo.Vendor).
				Layer(2).
				Index(3).
				Type("2.16.840.1.113741.1.15.4.4").
				Fwids(tcbinfo.NewFwIdField("2.16.840.1.101.3.4.2.1", bytesHex(digest[:32]))).
				Build(),
		},
		{
			name:    "device state",
			header:  &abi.MeasurementHeaderV2{Type: abi.SectionDeviceState, SizeWords: 1},
			section: abi.SectionDeviceState,
			payload: []byte{0x01, 0x0a, 0xb0, 0xff},
			want: (&tcbinfo.Builder{}).
				Vendor(tcbinfo.Vendor).
				Layer(2).
				Type("2.16.840.1.113741.1.15.4.5").
				VendorInfo(tcbinfo.MaskedVendorInfo{VendorInfo: "010AB0FF", Mask: "FFFFFFFF"}).
				Build(),
		},
	}
	for _, tc := range tests {
		got, err := MapMeasurementRecord(tc.header, tc.payload, tc.section)
		if err != nil {
			t.Fatalf("%s: MapMeasurementRecord() = %v", tc.name, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s: MapMeasurementRecord() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func bytesHex(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, 2*len(b))
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0xf])
	}
	return string(out)
}

func TestMapMeasurementRecordUnsupportedSize(t *testing.T) {
	_, err := MapMeasurementRecord(&abi.MeasurementHeaderV1{Type: abi.SectionHPS, Size: 20}, make([]byte, 20), abi.SectionHPS)
	var mapErr *MappingError
	if !errors.As(err, &mapErr) {
		t.Fatalf("MapMeasurementRecord(20 bytes) = %v, want *MappingError", err)
	}
	if !errors.Is(err, abi.ErrUnsupportedHashAlgorithm) {
		t.Errorf("MapMeasurementRecord(20 bytes) = %v, want ErrUnsupportedHashAlgorithm cause", err)
	}
}

func TestMapMeasurementRecordsFromDeviceBytes(t *testing.T) {
	rec := &abi.MeasurementRecord{
		Type:    abi.SectionPR,
		Header:  &abi.MeasurementHeaderV2{Type: abi.SectionPR, Index: 1},
		Payload: bytes.Repeat([]byte{1}, 48),
	}
	raw, err := rec.Bytes(abi.Firmware)
	if err != nil {
		t.Fatal(err)
	}
	records, err := abi.ParseMeasurementRecords(raw, abi.RecordFormatV2, abi.Firmware)
	if err != nil {
		t.Fatal(err)
	}
	infos, err := MapMeasurementRecords(records)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("MapMeasurementRecords() returned %d entries, want 1", len(infos))
	}
	if index, _ := infos[0].Index(); index != 1 {
		t.Errorf("INDEX = %d, want 1", index)
	}
}

func TestManifestFormats(t *testing.T) {
	m := &Manifest{
		TagID:  uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Name:   "agilex-rim",
		Blocks: []EvidenceBlock{filledBlock(), {Vendor: tcbinfo.Vendor, Model: "Agilex"}},
	}
	dir := t.TempDir()
	for _, format := range []Format{FormatJSON, FormatCBOR, FormatYAML} {
		data, err := m.Encode(format)
		if err != nil {
			t.Fatalf("Encode(%v) = %v", format, err)
		}
		got, err := LoadManifest(data, format)
		if err != nil {
			t.Fatalf("LoadManifest(%v) = %v", format, err)
		}
		if diff := cmp.Diff(m, got); diff != "" {
			t.Errorf("LoadManifest(Encode(%v)) differs: %s", format, diff)
		}
		path := filepath.Join(dir, "rim."+format.String())
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
		fromFile, err := ReadManifestFile(path)
		if err != nil {
			t.Fatalf("ReadManifestFile(%s) = %v", path, err)
		}
		infos := fromFile.TcbInfos()
		if len(infos) != 2 || !infos[1].Has(tcbinfo.FieldIndex) {
			t.Errorf("ReadManifestFile(%s).TcbInfos() = %v, want 2 entries with INDEX on the second", path, infos)
		}
	}
}

func TestLoadManifestRequiresTagID(t *testing.T) {
	if _, err := LoadManifest([]byte(`{"blocks": []}`), FormatJSON); err == nil {
		t.Error("LoadManifest(no tag id) = nil error, want error")
	}
	if _, err := ReadManifestFile("rim.txt"); err == nil {
		t.Error("ReadManifestFile(rim.txt) = nil error, want unknown format error")
	}
}
