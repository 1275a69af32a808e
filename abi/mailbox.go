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

import "fmt"

// MailboxStatus is the error code the secure device manager returns in a response header.
type MailboxStatus uint16

const (
	// MailboxOK denotes successful completion of a command.
	MailboxOK MailboxStatus = 0x0
	// MailboxInvalidCommand is the code for an unrecognized command code.
	MailboxInvalidCommand MailboxStatus = 0x1
	// MailboxUnknownBootROM is the code for a boot ROM that does not know the command.
	MailboxUnknownBootROM MailboxStatus = 0x2
	// MailboxUnknown is the code for an unclassified firmware error.
	MailboxUnknown MailboxStatus = 0x3
	// MailboxInvalidLength is the code for a request whose length does not match the command.
	MailboxInvalidLength MailboxStatus = 0x4
	// MailboxInvalidParameter is the code for a malformed argument, such as an unknown
	// certificate type.
	MailboxInvalidParameter MailboxStatus = 0x5
	// MailboxNotAllowed is the code for a command disabled by the device's security settings.
	MailboxNotAllowed MailboxStatus = 0x85
	// MailboxNotConfigured is the code for a command that needs a configured device.
	MailboxNotConfigured MailboxStatus = 0x1FF
	// MailboxCertificateUnavailable is the code for a certificate slot that has never been
	// provisioned.
	MailboxCertificateUnavailable MailboxStatus = 0x2F0
)

// MailboxErr is an error that interprets a non-zero mailbox status.
type MailboxErr struct {
	error
	Status MailboxStatus
}

func (e MailboxErr) Error() string {
	switch e.Status {
	case MailboxOK:
		return "success"
	case MailboxInvalidCommand:
		return "invalid command (library bug, please report)"
	case MailboxUnknownBootROM:
		return "command is not supported by the device boot ROM"
	case MailboxUnknown:
		return "unknown device firmware error"
	case MailboxInvalidLength:
		return "request length does not match the command (library bug, please report)"
	case MailboxInvalidParameter:
		return "invalid command parameter"
	case MailboxNotAllowed:
		return "command is not allowed under the device security settings"
	case MailboxNotConfigured:
		return "device is not configured"
	case MailboxCertificateUnavailable:
		return "requested certificate is not provisioned on the device"
	}
	return fmt.Sprintf("unexpected mailbox status: 0x%x", uint16(e.Status))
}

// MailboxHeader is the first word of every mailbox request and response.
//
//	[31:28] reserved
//	[27:24] client id
//	[23]    reserved
//	[22:12] payload length in words
//	[11]    indirect
//	[10:0]  command code on request, status on response
type MailboxHeader struct {
	ClientID    uint8
	LengthWords uint16
	Indirect    bool
	Code        uint16
}

const (
	mailboxCodeMask   = 0x7FF
	mailboxLengthMask = 0x7FF
	mailboxIDMask     = 0xF
)

// MailboxMaxPayloadWords is the largest payload a mailbox header can declare.
const MailboxMaxPayloadWords = mailboxLengthMask

// Word encodes the header into its 32-bit form.
func (h MailboxHeader) Word() (uint32, error) {
	if h.Code > mailboxCodeMask {
		return 0, fmt.Errorf("mailbox code 0x%x does not fit 11 bits", h.Code)
	}
	if h.LengthWords > mailboxLengthMask {
		return 0, fmt.Errorf("mailbox payload of %d words does not fit 11 bits", h.LengthWords)
	}
	if h.ClientID > mailboxIDMask {
		return 0, fmt.Errorf("mailbox client id %d does not fit 4 bits", h.ClientID)
	}
	w := uint32(h.ClientID)<<24 | uint32(h.LengthWords)<<12 | uint32(h.Code)
	if h.Indirect {
		w |= 1 << 11
	}
	return w, nil
}

// ParseMailboxHeader decodes a header word.
func ParseMailboxHeader(w uint32) MailboxHeader {
	return MailboxHeader{
		ClientID:    uint8(w>>24) & mailboxIDMask,
		LengthWords: uint16(w>>12) & mailboxLengthMask,
		Indirect:    w&(1<<11) != 0,
		Code:        uint16(w) & mailboxCodeMask,
	}
}

// Status interprets the code of a response header.
func (h MailboxHeader) Status() MailboxStatus { return MailboxStatus(h.Code) }

// MailboxCommand is a secure device manager command code.
type MailboxCommand uint16

const (
	// CommandGetAttestationCertificate returns a DER certificate chosen by a CertificateRequestType.
	CommandGetAttestationCertificate MailboxCommand = 0x181
	// CommandGetMeasurement returns the device measurement records.
	CommandGetMeasurement MailboxCommand = 0x183
)

func (c MailboxCommand) String() string {
	switch c {
	case CommandGetAttestationCertificate:
		return "GET_ATTESTATION_CERTIFICATE"
	case CommandGetMeasurement:
		return "GET_MEASUREMENT"
	}
	return fmt.Sprintf("MailboxCommand(0x%x)", uint16(c))
}

// CertificateRequestType selects which certificate GET_ATTESTATION_CERTIFICATE returns.
type CertificateRequestType uint32

const (
	// FirmwareCertificate is the certificate of the running firmware key.
	FirmwareCertificate CertificateRequestType = 0x01
	// UDSEfuseAliasCertificate is the alias certificate derived from the eFuse UDS.
	UDSEfuseAliasCertificate CertificateRequestType = 0x02
	// UDSIIDPUFAliasCertificate is the alias certificate derived from the PUF-backed UDS.
	UDSIIDPUFAliasCertificate CertificateRequestType = 0x04
	// DeviceIDEnrollmentCertificate is the self-signed enrollment certificate of the device id key.
	DeviceIDEnrollmentCertificate CertificateRequestType = 0x08
)

var certificateRequestTypeNames = map[CertificateRequestType]string{
	FirmwareCertificate:           "firmware",
	UDSEfuseAliasCertificate:      "uds_efuse_alias",
	UDSIIDPUFAliasCertificate:     "uds_iid_puf_alias",
	DeviceIDEnrollmentCertificate: "device_id_enrollment",
}

func (c CertificateRequestType) String() string {
	if name, ok := certificateRequestTypeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CertificateRequestType(0x%x)", uint32(c))
}

// ParseCertificateRequestType returns the request type named by s, as printed by String.
func ParseCertificateRequestType(s string) (CertificateRequestType, error) {
	for c, name := range certificateRequestTypeNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown certificate request type %q", s)
}
