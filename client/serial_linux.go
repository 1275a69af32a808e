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

//go:build linux

package client

import (
	"fmt"
	"time"

	"github.com/google/go-fpga-attest/abi"
	"github.com/google/go-fpga-attest/client/linuxabi"
	"golang.org/x/sys/unix"
)

// SerialOptions configures how a serial mailbox console is opened.
type SerialOptions struct {
	// DevicePath is the path to the tty. If empty, defaults to "/dev/ttyUSB0".
	DevicePath string
	// BaudRate is the console speed. If 0, defaults to linuxabi.DefaultBaudRate.
	BaudRate int
	// Timeout is the maximum time to wait for a response. If 0, defaults to 5 seconds.
	Timeout time.Duration
}

// SerialTransport implements the Transport interface over a raw tty. Responses are read as a
// mailbox header followed by the payload length it declares.
type SerialTransport struct {
	fd      int
	timeout time.Duration
}

// OpenSerial opens and configures the tty for raw transfer.
func OpenSerial(opts *SerialOptions) (*SerialTransport, error) {
	path := "/dev/ttyUSB0"
	var baud int
	timeout := 5 * time.Second
	if opts != nil {
		if opts.DevicePath != "" {
			path = opts.DevicePath
		}
		baud = opts.BaudRate
		if opts.Timeout != 0 {
			timeout = opts.Timeout
		}
	}
	speed, err := linuxabi.BaudRate(baud)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open serial device at %s: %v", path, err)
	}
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("could not read terminal settings of %s: %v", path, err)
	}
	// VTIME bounds each read call; the overall deadline is enforced in readFull.
	linuxabi.MakeRaw(t, speed, 1)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("could not configure %s: %v", path, err)
	}
	return &SerialTransport{fd: fd, timeout: timeout}, nil
}

func (s *SerialTransport) readFull(buf []byte, deadline time.Time) error {
	for n := 0; n < len(buf); {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after reading %d of %d bytes", n, len(buf))
		}
		m, err := unix.Read(s.fd, buf[n:])
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}

// SendCommand writes command to the tty and reads one mailbox response.
func (s *SerialTransport) SendCommand(command []byte) ([]byte, error) {
	if s.fd == -1 {
		return nil, fmt.Errorf("serial device is closed")
	}
	for written := 0; written < len(command); {
		n, err := unix.Write(s.fd, command[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("could not write command: %v", err)
		}
		written += n
	}
	deadline := time.Now().Add(s.timeout)
	header := make([]byte, 4)
	if err := s.readFull(header, deadline); err != nil {
		return nil, fmt.Errorf("could not read response header: %v", err)
	}
	order := abi.ResolveEndiannessAction(abi.MailboxHeaderWord, abi.Firmware).ByteOrder()
	length := int(abi.ParseMailboxHeader(order.Uint32(header)).LengthWords) * 4
	response := make([]byte, 4+length)
	copy(response, header)
	if err := s.readFull(response[4:], deadline); err != nil {
		return nil, fmt.Errorf("could not read response payload: %v", err)
	}
	return response, nil
}

// Close closes the tty.
func (s *SerialTransport) Close() error {
	if s.fd == -1 { // Not open
		return nil
	}
	if err := unix.Close(s.fd); err != nil {
		return err
	}
	// Prevent double-close.
	s.fd = -1
	return nil
}
