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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-fpga-attest/abi"
	test "github.com/google/go-fpga-attest/testing"
	"github.com/google/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signerOnce sync.Once
var signer *test.DiceSigner

// Creating a signer is expensive. Just do it once for the test suite.
func initSigner() {
	s, err := test.DefaultTestOnlyCertChain("agilex", time.Date(2022, time.May, 3, 9, 0, 0, 0, time.UTC))
	if err != nil { // Unexpected
		panic(err)
	}
	signer = s
}

func TestMain(m *testing.M) {
	logger.Init("ClientTestLog", false, false, io.Discard)
	os.Exit(m.Run())
}

func TestGetCertificateFromDevice(t *testing.T) {
	signerOnce.Do(initSigner)
	d := &test.Device{
		Certificates: map[abi.CertificateRequestType][]byte{
			abi.UDSEfuseAliasCertificate:      signer.Alias.Raw,
			abi.DeviceIDEnrollmentCertificate: signer.DeviceID.Raw,
		},
	}
	commands := &MailboxCommandLayer{ClientID: 2}

	got, err := GetCertificateFromDevice(d, commands, abi.UDSEfuseAliasCertificate)
	require.NoError(t, err)
	assert.Equal(t, signer.Alias.Raw, got.Raw)

	got, err = GetCertificateFromDevice(d, commands, abi.DeviceIDEnrollmentCertificate)
	require.NoError(t, err)
	assert.Equal(t, signer.DeviceID.Raw, got.Raw)
	assert.Len(t, d.Sent, 2)
}

func TestGetCertificateFromDeviceUnavailable(t *testing.T) {
	d := &test.Device{}
	_, err := GetCertificateFromDevice(d, &MailboxCommandLayer{}, abi.FirmwareCertificate)
	var mbErr abi.MailboxErr
	require.True(t, errors.As(err, &mbErr), "got %v, want MailboxErr", err)
	assert.Equal(t, abi.MailboxCertificateUnavailable, mbErr.Status)
}

func TestGetCertificateFromDeviceTransportError(t *testing.T) {
	transportErr := errors.New("link down")
	d := &test.Device{Err: transportErr}
	_, err := GetCertificateFromDevice(d, &MailboxCommandLayer{}, abi.FirmwareCertificate)
	assert.Same(t, transportErr, err)
	assert.Len(t, d.Sent, 1, "a transport failure must not be retried")
}

func TestGetCertificateFromDeviceGarbage(t *testing.T) {
	d := &test.Device{
		Certificates: map[abi.CertificateRequestType][]byte{abi.FirmwareCertificate: {0x30, 0x03, 1, 2, 3, 0xff}},
	}
	_, err := GetCertificateFromDevice(d, &MailboxCommandLayer{}, abi.FirmwareCertificate)
	assert.Error(t, err)
}

func TestGetMeasurementsFromDevice(t *testing.T) {
	record := &abi.MeasurementRecord{
		Type:    abi.SectionCore,
		Header:  &abi.MeasurementHeaderV2{Type: abi.SectionCore, Index: 3, SizeWords: 12},
		Payload: bytes.Repeat([]byte{0xAB}, 48),
	}
	body, err := record.Bytes(abi.Firmware)
	require.NoError(t, err)
	d := &test.Device{Measurements: body}

	records, err := GetMeasurementsFromDevice(d, &MailboxCommandLayer{}, abi.RecordFormatV2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, abi.SectionCore, records[0].Type)
	assert.Equal(t, 3, records[0].Header.SectionIndex())
	assert.Equal(t, 48, records[0].Header.MeasurementSize())
	assert.Equal(t, record.Payload, records[0].Payload)
}

func TestMailboxCommandLayer(t *testing.T) {
	m := &MailboxCommandLayer{ClientID: 1}
	_, err := m.Create(abi.CommandGetMeasurement, []byte{1, 2, 3})
	assert.Error(t, err, "unaligned payload")

	cmd, err := m.Create(abi.CommandGetAttestationCertificate, []byte{1, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x11, 0x00, 0x01, 1, 0, 0, 0}, cmd)

	cmd, err = m.Create(abi.CommandGetMeasurement, make([]byte, 4*abi.MailboxMaxPayloadWords))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x83, 0xF1, 0x7F, 0x01}, cmd[:4])

	for _, words := range []int{abi.MailboxMaxPayloadWords + 1, 65536 + 1} {
		_, err = m.Create(abi.CommandGetMeasurement, make([]byte, 4*words))
		assert.Error(t, err, "payload of %d words", words)
	}

	_, err = m.Retrieve([]byte{0x00, 0x10, 0x00, 0x01}, abi.CommandGetMeasurement)
	assert.Error(t, err, "declared length exceeds response")

	_, err = m.Retrieve([]byte{0x00, 0x00, 0x00, 0x02}, abi.CommandGetMeasurement)
	assert.Error(t, err, "wrong client id")

	got, err := m.Retrieve([]byte{0x00, 0x10, 0x00, 0x01, 9, 8, 7, 6}, abi.CommandGetMeasurement)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6}, got)
}

func TestParseHPSConfig(t *testing.T) {
	tcs := []struct {
		config  string
		want    HPSConfig
		wantErr bool
	}{
		{config: "host:127.0.0.1; port:80", want: HPSConfig{Host: "127.0.0.1", Port: 80}},
		{config: "port: 50001;host: fpga.local;", want: HPSConfig{Host: "fpga.local", Port: 50001}},
		{config: "host:127.0.0.1", wantErr: true},
		{config: "host:127.0.0.1; port:0", wantErr: true},
		{config: "host:127.0.0.1; port:http", wantErr: true},
		{config: "host:127.0.0.1; port:80; user:root", wantErr: true},
		{config: "127.0.0.1:80", wantErr: true},
	}
	for _, tc := range tcs {
		got, err := ParseHPSConfig(tc.config)
		if tc.wantErr {
			assert.Error(t, err, tc.config)
			continue
		}
		require.NoError(t, err, tc.config)
		assert.Equal(t, tc.want, got)
	}
}

func TestHPSTransport(t *testing.T) {
	command := []byte{1, 2, 3, 4}
	response := []byte{1, 0, 2, 0}
	server, clientConn := net.Pipe()
	defer server.Close()
	go func() {
		var size [4]byte
		if _, err := io.ReadFull(server, size[:]); err != nil {
			return
		}
		got := make([]byte, binary.BigEndian.Uint32(size[:]))
		if _, err := io.ReadFull(server, got); err != nil {
			return
		}
		if !bytes.Equal(got, command) {
			return
		}
		out := make([]byte, 4+len(response))
		binary.BigEndian.PutUint32(out, uint32(len(response)))
		copy(out[4:], response)
		server.Write(out)
	}()
	h := &HPSTransport{
		Config:  HPSConfig{Host: "127.0.0.1", Port: 80},
		Timeout: 5 * time.Second,
		dial: func(_ context.Context, _, _ string) (net.Conn, error) {
			return clientConn, nil
		},
	}
	got, err := h.SendCommand(command)
	require.NoError(t, err)
	assert.Equal(t, response, got)
	assert.NoError(t, h.Close())
}

func TestHPSTransportDialError(t *testing.T) {
	dialErr := errors.New("refused")
	h := &HPSTransport{
		Config: HPSConfig{Host: "127.0.0.1", Port: 80},
		dial: func(_ context.Context, _, _ string) (net.Conn, error) {
			return nil, dialErr
		},
	}
	_, err := h.SendCommand([]byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, dialErr)
}
