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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveEndiannessActionDiffersByActor(t *testing.T) {
	for _, field := range []Field{
		Block0EntryMagic,
		Block0LengthOffset,
		Block0DataLen,
		Block0SigLen,
		Block0ShaLen,
		RecordMeasurementSizeV1,
		RecordSectionIndexV2,
		RecordMeasurementSizeV2,
		MailboxHeaderWord,
		CertificateRequestWord,
	} {
		fw := ResolveEndiannessAction(field, Firmware)
		svc := ResolveEndiannessAction(field, Service)
		if fw != Convert || svc != None {
			t.Errorf("ResolveEndiannessAction(%v) = firmware %v, service %v. Want CONVERT, NONE", field, fw, svc)
		}
		for i := 0; i < 3; i++ {
			if again := ResolveEndiannessAction(field, Firmware); again != fw {
				t.Errorf("ResolveEndiannessAction(%v, Firmware) call %d = %v, want %v", field, i, again, fw)
			}
		}
	}
}

func TestSingleByteFieldsNeverConvert(t *testing.T) {
	for _, field := range []Field{RecordSectionType, RecordSectionIndexV1} {
		for _, actor := range []Actor{Firmware, Service} {
			if got := ResolveEndiannessAction(field, actor); got != None {
				t.Errorf("ResolveEndiannessAction(%v, %v) = %v, want NONE", field, actor, got)
			}
		}
	}
}

func TestResolveEndiannessActionUnregisteredPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("ResolveEndiannessAction(unregistered) did not panic")
		}
	}()
	ResolveEndiannessAction(Field(9999), Firmware)
}

func TestEndiannessMapResolveWrongStructurePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Block0EntryEndianness.Resolve(MailboxHeaderWord) did not panic")
		}
	}()
	Block0EntryEndianness.Resolve(MailboxHeaderWord, Firmware)
}

func TestLookupEndiannessAction(t *testing.T) {
	if _, err := LookupEndiannessAction(Field(9999), Service); err == nil {
		t.Error("LookupEndiannessAction(unregistered) = nil error, want error")
	}
	f, err := ParseField("BLOCK0_SHA_LEN")
	if err != nil {
		t.Fatalf("ParseField(BLOCK0_SHA_LEN) = %v", err)
	}
	got, err := LookupEndiannessAction(f, Firmware)
	if err != nil || got != Convert {
		t.Errorf("LookupEndiannessAction(%v, Firmware) = %v, %v. Want CONVERT, nil", f, got, err)
	}
	if diff := cmp.Diff(Block0EntryEndianness.Fields(), []Field{Block0EntryMagic, Block0LengthOffset, Block0DataLen, Block0SigLen, Block0ShaLen}); diff != "" {
		t.Errorf("Block0EntryEndianness.Fields() differs: %s", diff)
	}
}

func TestReaderByteOrder(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	fw, err := NewReader(data, Firmware).ReadUint32(Block0EntryMagic)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewReader(data, Service).ReadUint32(Block0EntryMagic)
	if err != nil {
		t.Fatal(err)
	}
	if fw != 0x04030201 {
		t.Errorf("firmware ReadUint32 = 0x%x, want 0x04030201", fw)
	}
	if svc != 0x01020304 {
		t.Errorf("service ReadUint32 = 0x%x, want 0x01020304", svc)
	}
}

func TestReaderUnderflow(t *testing.T) {
	r := NewReader([]byte{1, 2, 3}, Firmware)
	if _, err := r.ReadUint16(RecordSectionIndexV2); err != nil {
		t.Fatalf("ReadUint16() = %v, want nil", err)
	}
	if got := r.Remaining(); got != 1 {
		t.Errorf("Remaining() = %d, want 1", got)
	}
	_, err := r.ReadUint32(Block0DataLen)
	if !errors.Is(err, ErrUnderflow) {
		t.Fatalf("ReadUint32() = %v, want ErrUnderflow", err)
	}
	var u *UnderflowError
	if !errors.As(err, &u) || u.Want != 4 || u.Remaining != 1 {
		t.Errorf("ReadUint32() error = %#v, want Want 4 Remaining 1", err)
	}
	if _, err := r.Read(2); !errors.Is(err, ErrUnderflow) {
		t.Errorf("Read(2) = %v, want ErrUnderflow", err)
	}
	if _, err := r.ReadUint8(); err != nil {
		t.Errorf("ReadUint8() = %v, want nil", err)
	}
	if _, err := r.ReadUint8(); !errors.Is(err, ErrUnderflow) {
		t.Errorf("ReadUint8() at end = %v, want ErrUnderflow", err)
	}
	if err := r.Skip(1); !errors.Is(err, ErrUnderflow) {
		t.Errorf("Skip(1) at end = %v, want ErrUnderflow", err)
	}
}

func TestBlock0EntryRoundTrip(t *testing.T) {
	entry := &Block0Entry{
		Magic:        Block0EntryMagicValue,
		LengthOffset: Block0EntryHeaderSize + 5,
		DataLen:      5,
		SigLen:       3,
		ShaLen:       48,
		Data:         []byte("hello"),
		Signature:    []byte{0xaa, 0xbb, 0xcc},
	}
	var serialized [][]byte
	for _, actor := range []Actor{Firmware, Service} {
		raw, err := entry.Bytes(actor)
		if err != nil {
			t.Fatalf("Bytes(%v) = %v", actor, err)
		}
		got, err := ParseBlock0Entry(raw, actor)
		if err != nil {
			t.Fatalf("ParseBlock0Entry(%v) = %v", actor, err)
		}
		if diff := cmp.Diff(entry, got); diff != "" {
			t.Errorf("ParseBlock0Entry(Bytes(%v)) differs: %s", actor, diff)
		}
		serialized = append(serialized, raw)
	}
	if bytes.Equal(serialized[0][:Block0EntryHeaderSize], serialized[1][:Block0EntryHeaderSize]) {
		t.Error("firmware and service block0 headers are identical, want byte-swapped integers")
	}
	if _, err := ParseBlock0Entry(serialized[0], Service); err == nil || !strings.Contains(err.Error(), "magic") {
		t.Errorf("ParseBlock0Entry(firmware bytes, Service) = %v, want magic error", err)
	}
}

func TestBlock0EntryTruncated(t *testing.T) {
	entry := &Block0Entry{Data: []byte("data"), Signature: []byte("sig")}
	raw, err := entry.Bytes(Firmware)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseBlock0Entry(raw[:len(raw)-1], Firmware); !errors.Is(err, ErrUnderflow) {
		t.Errorf("ParseBlock0Entry(truncated) = %v, want ErrUnderflow", err)
	}
}

func TestParseMeasurementRecords(t *testing.T) {
	digest := bytes.Repeat([]byte{0xab}, 48)
	state := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	tests := []struct {
		name    string
		format  RecordFormat
		records []*MeasurementRecord
		want    []int
	}{
		{
			name:   "v1",
			format: RecordFormatV1,
			records: []*MeasurementRecord{
				{Type: SectionCore, Header: &MeasurementHeaderV1{Type: SectionCore, Size: 48}, Payload: digest},
				{Type: SectionPR, Header: &MeasurementHeaderV1{Type: SectionPR, Index: 3, Size: 48}, Payload: digest},
			},
			want: []int{0, 3},
		},
		{
			name:   "v2",
			format: RecordFormatV2,
			records: []*MeasurementRecord{
				{Type: SectionPR, Header: &MeasurementHeaderV2{Type: SectionPR, Index: 0x102, SizeWords: 12}, Payload: digest},
				{Type: SectionDeviceState, Header: &MeasurementHeaderV2{Type: SectionDeviceState, SizeWords: 2}, Payload: state},
			},
			want: []int{0x102, 0},
		},
	}
	for _, tc := range tests {
		var raw []byte
		for _, rec := range tc.records {
			b, err := rec.Bytes(Firmware)
			if err != nil {
				t.Fatalf("%s: Bytes() = %v", tc.name, err)
			}
			raw = append(raw, b...)
		}
		got, err := ParseMeasurementRecords(raw, tc.format, Firmware)
		if err != nil {
			t.Fatalf("%s: ParseMeasurementRecords() = %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.records, got); diff != "" {
			t.Errorf("%s: ParseMeasurementRecords() differs: %s", tc.name, diff)
		}
		for i, rec := range got {
			if rec.Header.SectionIndex() != tc.want[i] {
				t.Errorf("%s: record %d SectionIndex() = %d, want %d", tc.name, i, rec.Header.SectionIndex(), tc.want[i])
			}
		}
		if _, err := ParseMeasurementRecords(raw[:len(raw)-1], tc.format, Firmware); !errors.Is(err, ErrUnderflow) {
			t.Errorf("%s: ParseMeasurementRecords(truncated) = %v, want ErrUnderflow", tc.name, err)
		}
	}
}

func TestMeasurementRecordBytesSizeOverflow(t *testing.T) {
	fits := &MeasurementRecord{Type: SectionCore, Header: &MeasurementHeaderV2{Type: SectionCore}, Payload: make([]byte, 4*0xFFFF)}
	if _, err := fits.Bytes(Firmware); err != nil {
		t.Errorf("Bytes() with 0xFFFF words = %v, want nil", err)
	}
	tooLarge := &MeasurementRecord{Type: SectionCore, Header: &MeasurementHeaderV2{Type: SectionCore}, Payload: make([]byte, 4*0x10000)}
	if _, err := tooLarge.Bytes(Firmware); err == nil || !strings.Contains(err.Error(), "does not fit") {
		t.Errorf("Bytes() with 0x10000 words = %v, want size error", err)
	}
}

func TestParseMeasurementRecordsUnknownSection(t *testing.T) {
	raw := []byte{0x7f, 0, 0, 0, 0, 0, 0, 0}
	if _, err := ParseMeasurementRecords(raw, RecordFormatV1, Firmware); err == nil || !strings.Contains(err.Error(), "unknown measurement section type") {
		t.Errorf("ParseMeasurementRecords() = %v, want unknown section type error", err)
	}
}

func TestFwidHashAlgorithmFromSize(t *testing.T) {
	tests := []struct {
		size    int
		want    string
		wantErr bool
	}{
		{size: 32, want: "2.16.840.1.101.3.4.2.1"},
		{size: 48, want: "2.16.840.1.101.3.4.2.2"},
		{size: 64, want: "2.16.840.1.101.3.4.2.3"},
		{size: 20, wantErr: true},
		{size: 0, wantErr: true},
	}
	for _, tc := range tests {
		got, err := FwidHashAlgorithmFromSize(tc.size)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupportedHashAlgorithm) {
				t.Errorf("FwidHashAlgorithmFromSize(%d) = %v, want ErrUnsupportedHashAlgorithm", tc.size, err)
			}
			continue
		}
		if err != nil || got.OID.String() != tc.want {
			t.Errorf("FwidHashAlgorithmFromSize(%d) = %v, %v. Want %s", tc.size, got.OID, err, tc.want)
		}
		back, err := FwidHashAlgorithmFromOID(tc.want)
		if err != nil || back.Size != tc.size {
			t.Errorf("FwidHashAlgorithmFromOID(%s) = %v, %v. Want size %d", tc.want, back, err, tc.size)
		}
	}
}

func TestMailboxHeader(t *testing.T) {
	h := MailboxHeader{ClientID: 0xA, LengthWords: 3, Code: 0x181}
	w, err := h.Word()
	if err != nil {
		t.Fatal(err)
	}
	if w != 0x0A003181 {
		t.Errorf("Word() = 0x%08x, want 0x0A003181", w)
	}
	if got := ParseMailboxHeader(w); got != h {
		t.Errorf("ParseMailboxHeader(0x%x) = %+v, want %+v", w, got, h)
	}
	if _, err := (MailboxHeader{Code: 0x800}).Word(); err == nil {
		t.Error("Word() with 12-bit code = nil error, want error")
	}
	err = MailboxErr{Status: MailboxCertificateUnavailable}
	if !strings.Contains(err.Error(), "not provisioned") {
		t.Errorf("MailboxErr.Error() = %q", err.Error())
	}
}

func TestParseRecordFormat(t *testing.T) {
	for _, f := range []RecordFormat{RecordFormatV1, RecordFormatV2} {
		got, err := ParseRecordFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseRecordFormat(%q) = %v, %v, want %v", f.String(), got, err, f)
		}
	}
	if _, err := ParseRecordFormat("v3"); err == nil {
		t.Error("ParseRecordFormat(\"v3\") = nil error, want error")
	}
}
