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

// Package client provides an interface to the FPGA secure device manager commands used for
// attestation.
package client

import (
	"crypto/x509"

	"github.com/google/go-fpga-attest/abi"
	"github.com/google/logger"
	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Transport carries an encoded command to the device and returns the raw response.
type Transport interface {
	SendCommand(command []byte) ([]byte, error)
}

// CommandLayer frames command payloads for a Transport and unframes their responses.
type CommandLayer interface {
	// Create returns the encoded command for code carrying payload.
	Create(code abi.MailboxCommand, payload []byte) ([]byte, error)
	// Retrieve returns the response payload of a command with the given code, or an error if the
	// device reported a failure.
	Retrieve(response []byte, code abi.MailboxCommand) ([]byte, error)
}

func message(t Transport, c CommandLayer, code abi.MailboxCommand, payload []byte) ([]byte, error) {
	command, err := c.Create(code, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create %v command", code)
	}
	response, err := t.SendCommand(command)
	if err != nil {
		return nil, err
	}
	body, err := c.Retrieve(response, code)
	if err != nil {
		return nil, errors.Wrapf(err, "%v failed", code)
	}
	return body, nil
}

// trimDER returns the single DER element at the start of body. Responses are padded to whole
// words, which x509.ParseCertificate rejects as trailing data.
func trimDER(body []byte) ([]byte, error) {
	s := cryptobyte.String(body)
	var element cryptobyte.String
	if !s.ReadASN1Element(&element, asn1.SEQUENCE) {
		return nil, errors.New("response does not start with a DER SEQUENCE")
	}
	for _, b := range s {
		if b != 0 {
			return nil, errors.Errorf("unexpected %d trailing bytes after certificate", len(s))
		}
	}
	return element, nil
}

// GetRawCertificateFromDevice requests the DER certificate of the given type.
func GetRawCertificateFromDevice(t Transport, c CommandLayer, certType abi.CertificateRequestType) ([]byte, error) {
	w := abi.NewWriter(abi.Firmware)
	w.AddUint32(abi.CertificateRequestWord, uint32(certType))
	payload, err := w.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "could not encode certificate request")
	}
	body, err := message(t, c, abi.CommandGetAttestationCertificate, payload)
	if err != nil {
		return nil, err
	}
	return trimDER(body)
}

// GetCertificateFromDevice requests the certificate of the given type and parses it. Transport
// failures are returned unchanged; there is no retry or caching.
func GetCertificateFromDevice(t Transport, c CommandLayer, certType abi.CertificateRequestType) (*x509.Certificate, error) {
	der, err := GetRawCertificateFromDevice(t, c, certType)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %v certificate", certType)
	}
	logger.Infof("device returned %v certificate for %v", certType, cert.Subject)
	return cert, nil
}

// GetRawMeasurementsFromDevice returns the GET_MEASUREMENT response body, in firmware order.
func GetRawMeasurementsFromDevice(t Transport, c CommandLayer) ([]byte, error) {
	return message(t, c, abi.CommandGetMeasurement, nil)
}

// GetMeasurementsFromDevice returns the device's measurement records, decoded with the header
// layout of the given device generation.
func GetMeasurementsFromDevice(t Transport, c CommandLayer, format abi.RecordFormat) ([]*abi.MeasurementRecord, error) {
	body, err := GetRawMeasurementsFromDevice(t, c)
	if err != nil {
		return nil, err
	}
	records, err := abi.ParseMeasurementRecords(body, format, abi.Firmware)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse measurement records")
	}
	return records, nil
}
