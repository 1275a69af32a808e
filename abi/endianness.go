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

// Package abi encapsulates the binary structures exchanged with the FPGA secure device manager,
// and the rules for which side of the device/host boundary owns each field's byte order.
package abi

import (
	"encoding/binary"
	"fmt"
)

// Actor identifies which side of the device boundary produced or will consume a byte stream.
type Actor int

const (
	// Firmware is data produced for or by the device firmware.
	Firmware Actor = iota
	// Service is data produced for or by the host application.
	Service
)

func (a Actor) String() string {
	switch a {
	case Firmware:
		return "firmware"
	case Service:
		return "service"
	}
	return fmt.Sprintf("Actor(%d)", int(a))
}

// Action is what must happen to a field's raw bytes before they are interpreted as an integer.
type Action int

const (
	// None means the bytes are already in application (big-endian) order.
	None Action = iota
	// Convert means the bytes are in firmware (little-endian) order and must be swapped.
	Convert
)

func (a Action) String() string {
	if a == Convert {
		return "CONVERT"
	}
	return "NONE"
}

// ByteOrder returns the byte order that a field with this action is stored in.
func (a Action) ByteOrder() binary.ByteOrder {
	if a == Convert {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Field names one integer field of a device structure.
type Field int

// The registered structure fields. Each belongs to exactly one EndiannessMap.
const (
	Block0EntryMagic Field = iota + 1
	Block0LengthOffset
	Block0DataLen
	Block0SigLen
	Block0ShaLen

	RecordSectionType
	RecordSectionIndexV1
	RecordMeasurementSizeV1
	RecordSectionIndexV2
	RecordMeasurementSizeV2

	MailboxHeaderWord

	CertificateRequestWord

	lastField
)

var fieldNames = map[Field]string{
	Block0EntryMagic:        "BLOCK0_ENTRY_MAGIC",
	Block0LengthOffset:      "BLOCK0_LENGTH_OFFSET",
	Block0DataLen:           "BLOCK0_DATA_LEN",
	Block0SigLen:            "BLOCK0_SIG_LEN",
	Block0ShaLen:            "BLOCK0_SHA_LEN",
	RecordSectionType:       "RECORD_SECTION_TYPE",
	RecordSectionIndexV1:    "RECORD_SECTION_INDEX_V1",
	RecordMeasurementSizeV1: "RECORD_MEASUREMENT_SIZE_V1",
	RecordSectionIndexV2:    "RECORD_SECTION_INDEX_V2",
	RecordMeasurementSizeV2: "RECORD_MEASUREMENT_SIZE_V2",
	MailboxHeaderWord:       "MAILBOX_HEADER",
	CertificateRequestWord:  "CERTIFICATE_REQUEST_TYPE",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// EndiannessMap holds the per-actor conversion action for every field of one structure type.
// Maps are populated once at package initialization and only read afterwards.
type EndiannessMap struct {
	name    string
	actions map[Actor]map[Field]Action
}

// Name returns the structure type the map describes.
func (m *EndiannessMap) Name() string { return m.name }

// Lookup returns the action for field when read or written by actor, or an error if the field
// is not part of this structure.
func (m *EndiannessMap) Lookup(field Field, actor Actor) (Action, error) {
	byField, ok := m.actions[actor]
	if !ok {
		return None, fmt.Errorf("%s: unknown actor %v", m.name, actor)
	}
	action, ok := byField[field]
	if !ok {
		return None, fmt.Errorf("%s: field %v is not registered", m.name, field)
	}
	return action, nil
}

// Resolve is Lookup for callers whose field set is fixed at compile time. An unregistered field
// is a programming error and panics.
func (m *EndiannessMap) Resolve(field Field, actor Actor) Action {
	action, err := m.Lookup(field, actor)
	if err != nil {
		panic(err)
	}
	return action
}

// Fields returns the fields registered in the structure in declaration order.
func (m *EndiannessMap) Fields() []Field {
	var result []Field
	for f := Field(1); f < lastField; f++ {
		if _, ok := m.actions[Firmware][f]; ok {
			result = append(result, f)
		}
	}
	return result
}

// newEndiannessMap registers firmware-side actions. The host application always works in its
// native order, so every registered field resolves to None for the Service actor.
func newEndiannessMap(name string, firmware map[Field]Action) *EndiannessMap {
	service := make(map[Field]Action, len(firmware))
	for f := range firmware {
		service[f] = None
	}
	return &EndiannessMap{
		name:    name,
		actions: map[Actor]map[Field]Action{Firmware: firmware, Service: service},
	}
}

var (
	// Block0EntryEndianness describes the signed block0 entry carried in bitstream sections.
	Block0EntryEndianness = newEndiannessMap("block0 entry", map[Field]Action{
		Block0EntryMagic:   Convert,
		Block0LengthOffset: Convert,
		Block0DataLen:      Convert,
		Block0SigLen:       Convert,
		Block0ShaLen:       Convert,
	})

	// MeasurementRecordEndianness describes measurement record headers of both device generations.
	MeasurementRecordEndianness = newEndiannessMap("measurement record header", map[Field]Action{
		RecordSectionType:       None,
		RecordSectionIndexV1:    None,
		RecordMeasurementSizeV1: Convert,
		RecordSectionIndexV2:    Convert,
		RecordMeasurementSizeV2: Convert,
	})

	// MailboxEndianness describes the secure device manager mailbox header.
	MailboxEndianness = newEndiannessMap("mailbox header", map[Field]Action{
		MailboxHeaderWord: Convert,
	})

	// CertificateRequestEndianness describes the GET_ATTESTATION_CERTIFICATE request body.
	CertificateRequestEndianness = newEndiannessMap("certificate request", map[Field]Action{
		CertificateRequestWord: Convert,
	})

	fieldOwners = indexFieldOwners(
		Block0EntryEndianness,
		MeasurementRecordEndianness,
		MailboxEndianness,
		CertificateRequestEndianness,
	)
)

func indexFieldOwners(maps ...*EndiannessMap) map[Field]*EndiannessMap {
	owners := make(map[Field]*EndiannessMap)
	for _, m := range maps {
		for f := range m.actions[Firmware] {
			if prev, ok := owners[f]; ok {
				panic(fmt.Sprintf("field %v registered in both %s and %s", f, prev.name, m.name))
			}
			owners[f] = m
		}
	}
	return owners
}

// AllFields returns every field registered in any structure, in declaration order.
func AllFields() []Field {
	var result []Field
	for f := Field(1); f < lastField; f++ {
		if _, ok := fieldOwners[f]; ok {
			result = append(result, f)
		}
	}
	return result
}

// ResolveEndiannessAction returns the conversion action for field when the byte stream belongs
// to actor. It panics if no structure registers field.
func ResolveEndiannessAction(field Field, actor Actor) Action {
	m, ok := fieldOwners[field]
	if !ok {
		panic(fmt.Sprintf("field %v is not registered in any structure", field))
	}
	return m.Resolve(field, actor)
}

// LookupEndiannessAction is ResolveEndiannessAction for field identifiers that come from outside
// the program, such as command-line input.
func LookupEndiannessAction(field Field, actor Actor) (Action, error) {
	m, ok := fieldOwners[field]
	if !ok {
		return None, fmt.Errorf("field %v is not registered in any structure", field)
	}
	return m.Lookup(field, actor)
}

// ParseField returns the field with the given name, as printed by Field.String.
func ParseField(name string) (Field, error) {
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown structure field %q", name)
}

// ParseActor parses "firmware" or "service".
func ParseActor(name string) (Actor, error) {
	switch name {
	case "firmware", "FIRMWARE":
		return Firmware, nil
	case "service", "SERVICE":
		return Service, nil
	}
	return 0, fmt.Errorf("unknown actor %q, want firmware or service", name)
}
