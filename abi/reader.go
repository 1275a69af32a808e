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
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// ErrUnderflow is matched by every UnderflowError.
var ErrUnderflow = errors.New("buffer underflow")

// UnderflowError is returned when a read would go past the end of the buffer.
type UnderflowError struct {
	What      string
	Want      int
	Remaining int
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("%v: reading %s needs %d bytes, %d remaining", ErrUnderflow, e.What, e.Want, e.Remaining)
}

// Is reports whether target is ErrUnderflow.
func (e *UnderflowError) Is(target error) bool { return target == ErrUnderflow }

// Reader is a forward-only cursor over a device-supplied buffer. Integer fields are decoded in
// the byte order that the reader's actor uses for them.
type Reader struct {
	s     cryptobyte.String
	actor Actor
}

// NewReader returns a reader over data as produced by actor.
func NewReader(data []byte, actor Actor) *Reader {
	return &Reader{s: cryptobyte.String(data), actor: actor}
}

// Actor returns the producer of the buffer.
func (r *Reader) Actor() Actor { return r.actor }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.s) }

func (r *Reader) read(what string, n int) ([]byte, error) {
	var out []byte
	if n < 0 || !r.s.ReadBytes(&out, n) {
		return nil, &UnderflowError{What: what, Want: n, Remaining: len(r.s)}
	}
	return out, nil
}

// Read returns the next n bytes. The result aliases the underlying buffer.
func (r *Reader) Read(n int) ([]byte, error) {
	return r.read(fmt.Sprintf("%d-byte block", n), n)
}

// ReadCopy is Read but returns a copy that the caller may modify.
func (r *Reader) ReadCopy(n int) ([]byte, error) {
	b, err := r.Read(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Skip advances the cursor over n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || !r.s.Skip(n) {
		return &UnderflowError{What: "skipped bytes", Want: n, Remaining: len(r.s)}
	}
	return nil
}

// ReadUint8 returns the next byte. Single bytes have no byte order.
func (r *Reader) ReadUint8() (uint8, error) {
	var v uint8
	if !r.s.ReadUint8(&v) {
		return 0, &UnderflowError{What: "uint8", Want: 1, Remaining: len(r.s)}
	}
	return v, nil
}

// ReadUint16 decodes field from the next 2 bytes.
func (r *Reader) ReadUint16(field Field) (uint16, error) {
	b, err := r.read(field.String(), 2)
	if err != nil {
		return 0, err
	}
	return ResolveEndiannessAction(field, r.actor).ByteOrder().Uint16(b), nil
}

// ReadUint32 decodes field from the next 4 bytes.
func (r *Reader) ReadUint32(field Field) (uint32, error) {
	b, err := r.read(field.String(), 4)
	if err != nil {
		return 0, err
	}
	return ResolveEndiannessAction(field, r.actor).ByteOrder().Uint32(b), nil
}

// Writer serializes structure fields in the byte order that its actor expects.
type Writer struct {
	b     *cryptobyte.Builder
	actor Actor
}

// NewWriter returns an empty writer producing bytes for actor.
func NewWriter(actor Actor) *Writer {
	return &Writer{b: cryptobyte.NewBuilder(nil), actor: actor}
}

// AddUint8 appends a single byte.
func (w *Writer) AddUint8(v uint8) { w.b.AddUint8(v) }

// AddBytes appends data unchanged.
func (w *Writer) AddBytes(data []byte) { w.b.AddBytes(data) }

// AddUint16 appends field.
func (w *Writer) AddUint16(field Field, v uint16) {
	out := make([]byte, 2)
	ResolveEndiannessAction(field, w.actor).ByteOrder().PutUint16(out, v)
	w.b.AddBytes(out)
}

// AddUint32 appends field.
func (w *Writer) AddUint32(field Field, v uint32) {
	out := make([]byte, 4)
	ResolveEndiannessAction(field, w.actor).ByteOrder().PutUint32(out, v)
	w.b.AddBytes(out)
}

// Bytes returns the serialized buffer.
func (w *Writer) Bytes() ([]byte, error) {
	return w.b.Bytes()
}
