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

package client

import (
	"github.com/google/go-fpga-attest/abi"
	"github.com/pkg/errors"
)

// MailboxCommandLayer frames commands with the secure device manager mailbox header. Every
// multi-byte value is written in firmware order.
type MailboxCommandLayer struct {
	// ClientID tags requests so responses can be matched to them.
	ClientID uint8
}

// Create prefixes payload with a mailbox header for code. The payload must be whole words.
func (m *MailboxCommandLayer) Create(code abi.MailboxCommand, payload []byte) ([]byte, error) {
	if len(payload)%4 != 0 {
		return nil, errors.Errorf("mailbox payload length %d is not a multiple of 4", len(payload))
	}
	if words := len(payload) / 4; words > abi.MailboxMaxPayloadWords {
		return nil, errors.Errorf("mailbox payload of %d words exceeds %d", words, abi.MailboxMaxPayloadWords)
	}
	word, err := abi.MailboxHeader{
		ClientID:    m.ClientID,
		LengthWords: uint16(len(payload) / 4),
		Code:        uint16(code),
	}.Word()
	if err != nil {
		return nil, err
	}
	w := abi.NewWriter(abi.Firmware)
	w.AddUint32(abi.MailboxHeaderWord, word)
	w.AddBytes(payload)
	return w.Bytes()
}

// Retrieve checks the response header and returns its payload. A non-zero status is returned
// as an abi.MailboxErr.
func (m *MailboxCommandLayer) Retrieve(response []byte, code abi.MailboxCommand) ([]byte, error) {
	r := abi.NewReader(response, abi.Firmware)
	word, err := r.ReadUint32(abi.MailboxHeaderWord)
	if err != nil {
		return nil, errors.Wrap(err, "could not read mailbox response header")
	}
	header := abi.ParseMailboxHeader(word)
	if status := header.Status(); status != abi.MailboxOK {
		return nil, abi.MailboxErr{Status: status}
	}
	if header.ClientID != m.ClientID {
		return nil, errors.Errorf("%v response is for client %d, want %d", code, header.ClientID, m.ClientID)
	}
	length := int(header.LengthWords) * 4
	if r.Remaining() != length {
		return nil, errors.Errorf("%v response header declares %d bytes, got %d", code, length, r.Remaining())
	}
	return r.ReadCopy(length)
}
