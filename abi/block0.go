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
)

const (
	// Block0EntryMagicValue identifies a block0 entry.
	Block0EntryMagicValue = 0x15364367
	// Block0EntryHeaderSize is the size of the fixed block0 entry header in bytes.
	Block0EntryHeaderSize = 0x18
)

// Block0Entry is the signed data container at the start of a configuration bitstream section.
// The header is followed by the signed data and then its signature.
type Block0Entry struct {
	Magic uint32
	// LengthOffset is the offset from the start of the entry to the signature.
	LengthOffset uint32
	DataLen      uint32
	SigLen       uint32
	ShaLen       uint32
	Data         []byte
	Signature    []byte
}

// ParseBlock0Entry reads a block0 entry from data as produced by actor.
func ParseBlock0Entry(data []byte, actor Actor) (*Block0Entry, error) {
	r := NewReader(data, actor)
	e := &Block0Entry{}
	var err error
	if e.Magic, err = r.ReadUint32(Block0EntryMagic); err != nil {
		return nil, err
	}
	if e.Magic != Block0EntryMagicValue {
		return nil, fmt.Errorf("block0 entry magic is 0x%08x, want 0x%08x", e.Magic, Block0EntryMagicValue)
	}
	if e.LengthOffset, err = r.ReadUint32(Block0LengthOffset); err != nil {
		return nil, err
	}
	if e.DataLen, err = r.ReadUint32(Block0DataLen); err != nil {
		return nil, err
	}
	if e.SigLen, err = r.ReadUint32(Block0SigLen); err != nil {
		return nil, err
	}
	if e.ShaLen, err = r.ReadUint32(Block0ShaLen); err != nil {
		return nil, err
	}
	if err := r.Skip(4); err != nil {
		return nil, err
	}
	if want := uint32(Block0EntryHeaderSize) + e.DataLen; e.LengthOffset != want {
		return nil, fmt.Errorf("block0 entry length offset is 0x%x, want 0x%x", e.LengthOffset, want)
	}
	if e.Data, err = r.ReadCopy(int(e.DataLen)); err != nil {
		return nil, err
	}
	if e.Signature, err = r.ReadCopy(int(e.SigLen)); err != nil {
		return nil, err
	}
	return e, nil
}

// Bytes serializes the entry for actor. Length fields are derived from Data and Signature.
func (e *Block0Entry) Bytes(actor Actor) ([]byte, error) {
	if uint64(Block0EntryHeaderSize+len(e.Data)) > math.MaxUint32 {
		return nil, fmt.Errorf("block0 data of %d bytes does not fit the length fields", len(e.Data))
	}
	if uint64(len(e.Signature)) > math.MaxUint32 {
		return nil, fmt.Errorf("block0 signature of %d bytes does not fit the length field", len(e.Signature))
	}
	w := NewWriter(actor)
	w.AddUint32(Block0EntryMagic, Block0EntryMagicValue)
	w.AddUint32(Block0LengthOffset, uint32(Block0EntryHeaderSize+len(e.Data)))
	w.AddUint32(Block0DataLen, uint32(len(e.Data)))
	w.AddUint32(Block0SigLen, uint32(len(e.Signature)))
	w.AddUint32(Block0ShaLen, e.ShaLen)
	w.AddBytes(make([]byte, 4))
	w.AddBytes(e.Data)
	w.AddBytes(e.Signature)
	return w.Bytes()
}
