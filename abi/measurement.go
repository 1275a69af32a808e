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
	"fmt"
	"math"
	"strings"
)

// SectionType is the kind of configuration section a measurement record describes.
type SectionType uint8

const (
	// SectionIO is the I/O configuration section.
	SectionIO SectionType = 1
	// SectionCore is the core fabric configuration section.
	SectionCore SectionType = 2
	// SectionHPS is the hard processor system section.
	SectionHPS SectionType = 3
	// SectionPR is a partial reconfiguration region.
	SectionPR SectionType = 4
	// SectionDeviceState is the device state record. Its payload is not a digest.
	SectionDeviceState SectionType = 5
)

var sectionTypeNames = map[SectionType]string{
	SectionIO:          "IO",
	SectionCore:        "CORE",
	SectionHPS:         "HPS",
	SectionPR:          "PR",
	SectionDeviceState: "DEVICE_STATE",
}

func (s SectionType) String() string {
	if name, ok := sectionTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SectionType(%d)", uint8(s))
}

// Known reports whether s is one of the defined section types.
func (s SectionType) Known() bool {
	_, ok := sectionTypeNames[s]
	return ok
}

// RecordHeader is the part of a measurement record header that differs between device
// generations.
type RecordHeader interface {
	// SectionIndex is the index of a PR region.
	SectionIndex() int
	// MeasurementSize is the payload length in bytes.
	MeasurementSize() int
}

// RecordFormat selects the measurement record header layout.
type RecordFormat int

const (
	// RecordFormatV1 headers carry a byte-wide section index and a byte-counted size.
	RecordFormatV1 RecordFormat = iota + 1
	// RecordFormatV2 headers carry a 16-bit section index and a size counted in 32-bit words.
	RecordFormatV2
)

func (f RecordFormat) String() string {
	switch f {
	case RecordFormatV1:
		return "v1"
	case RecordFormatV2:
		return "v2"
	}
	return fmt.Sprintf("RecordFormat(%d)", int(f))
}

// ParseRecordFormat parses "v1" or "v2".
func ParseRecordFormat(s string) (RecordFormat, error) {
	switch strings.ToLower(s) {
	case "v1", "1":
		return RecordFormatV1, nil
	case "v2", "2":
		return RecordFormatV2, nil
	}
	return 0, fmt.Errorf("unknown measurement record format %q, want v1 or v2", s)
}

// MeasurementHeaderSize is the size of either header generation.
const MeasurementHeaderSize = 8

// MeasurementHeaderV1 is the record header of first-generation devices.
type MeasurementHeaderV1 struct {
	Type  SectionType
	Index uint8
	Size  uint32
}

// SectionIndex implements RecordHeader.
func (h *MeasurementHeaderV1) SectionIndex() int { return int(h.Index) }

// MeasurementSize implements RecordHeader.
func (h *MeasurementHeaderV1) MeasurementSize() int { return int(h.Size) }

// MeasurementHeaderV2 is the record header of second-generation devices.
type MeasurementHeaderV2 struct {
	Type      SectionType
	Index     uint16
	SizeWords uint16
}

// SectionIndex implements RecordHeader.
func (h *MeasurementHeaderV2) SectionIndex() int { return int(h.Index) }

// MeasurementSize implements RecordHeader.
func (h *MeasurementHeaderV2) MeasurementSize() int { return int(h.SizeWords) * 4 }

// MeasurementRecord is one header and its payload from a measurement response.
type MeasurementRecord struct {
	Type    SectionType
	Header  RecordHeader
	Payload []byte
}

func readHeaderV1(r *Reader) (*MeasurementHeaderV1, error) {
	t, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	index, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(2); err != nil {
		return nil, err
	}
	size, err := r.ReadUint32(RecordMeasurementSizeV1)
	if err != nil {
		return nil, err
	}
	return &MeasurementHeaderV1{Type: SectionType(t), Index: index, Size: size}, nil
}

func readHeaderV2(r *Reader) (*MeasurementHeaderV2, error) {
	t, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(1); err != nil {
		return nil, err
	}
	index, err := r.ReadUint16(RecordSectionIndexV2)
	if err != nil {
		return nil, err
	}
	words, err := r.ReadUint16(RecordMeasurementSizeV2)
	if err != nil {
		return nil, err
	}
	if err := r.Skip(2); err != nil {
		return nil, err
	}
	return &MeasurementHeaderV2{Type: SectionType(t), Index: index, SizeWords: words}, nil
}

// ReadMeasurementRecord reads one header of the given format and its payload.
func ReadMeasurementRecord(r *Reader, format RecordFormat) (*MeasurementRecord, error) {
	rec := &MeasurementRecord{}
	switch format {
	case RecordFormatV1:
		h, err := readHeaderV1(r)
		if err != nil {
			return nil, err
		}
		rec.Type, rec.Header = h.Type, h
	case RecordFormatV2:
		h, err := readHeaderV2(r)
		if err != nil {
			return nil, err
		}
		rec.Type, rec.Header = h.Type, h
	default:
		return nil, fmt.Errorf("unknown measurement record format %d", format)
	}
	if !rec.Type.Known() {
		return nil, fmt.Errorf("unknown measurement section type %d", uint8(rec.Type))
	}
	payload, err := r.ReadCopy(rec.Header.MeasurementSize())
	if err != nil {
		return nil, fmt.Errorf("%v record payload: %w", rec.Type, err)
	}
	rec.Payload = payload
	return rec, nil
}

// ParseMeasurementRecords reads records until data is exhausted.
func ParseMeasurementRecords(data []byte, format RecordFormat, actor Actor) ([]*MeasurementRecord, error) {
	r := NewReader(data, actor)
	var records []*MeasurementRecord
	for r.Remaining() > 0 {
		rec, err := ReadMeasurementRecord(r, format)
		if err != nil {
			return nil, fmt.Errorf("measurement record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Bytes serializes the record for actor using the header generation it was parsed with.
func (m *MeasurementRecord) Bytes(actor Actor) ([]byte, error) {
	w := NewWriter(actor)
	switch h := m.Header.(type) {
	case *MeasurementHeaderV1:
		if uint64(len(m.Payload)) > math.MaxUint32 {
			return nil, fmt.Errorf("payload length %d does not fit the record size field", len(m.Payload))
		}
		w.AddUint8(uint8(m.Type))
		w.AddUint8(h.Index)
		w.AddBytes([]byte{0, 0})
		w.AddUint32(RecordMeasurementSizeV1, uint32(len(m.Payload)))
	case *MeasurementHeaderV2:
		if len(m.Payload)%4 != 0 {
			return nil, fmt.Errorf("payload length %d is not a whole number of words", len(m.Payload))
		}
		if len(m.Payload)/4 > math.MaxUint16 {
			return nil, fmt.Errorf("payload of %d words does not fit the record size field", len(m.Payload)/4)
		}
		w.AddUint8(uint8(m.Type))
		w.AddUint8(0)
		w.AddUint16(RecordSectionIndexV2, h.Index)
		w.AddUint16(RecordMeasurementSizeV2, uint16(len(m.Payload)/4))
		w.AddBytes([]byte{0, 0})
	default:
		return nil, fmt.Errorf("unsupported record header %T", m.Header)
	}
	w.AddBytes(m.Payload)
	return w.Bytes()
}
