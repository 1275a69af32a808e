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
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/pkg/errors"
)

// maxPacketSize bounds a response to the largest mailbox payload plus its header.
const maxPacketSize = 4 * (0x7FF + 1)

// HPSConfig locates the service that forwards mailbox commands from the FPGA's hard processor
// system.
type HPSConfig struct {
	Host string
	Port int
}

// Address returns host:port.
func (c HPSConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParseHPSConfig parses a connection string of the form "host:<h>; port:<p>".
func ParseHPSConfig(config string) (HPSConfig, error) {
	var result HPSConfig
	var hasPort bool
	for _, part := range strings.Split(config, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			return HPSConfig{}, errors.Errorf("HPS config entry %q is not key:value", part)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "host":
			result.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil || port <= 0 || port > 65535 {
				return HPSConfig{}, errors.Errorf("invalid HPS port %q", value)
			}
			result.Port = port
			hasPort = true
		default:
			return HPSConfig{}, errors.Errorf("unknown HPS config key %q", key)
		}
	}
	if result.Host == "" || !hasPort {
		return HPSConfig{}, errors.Errorf("HPS config %q needs both host and port", config)
	}
	return result, nil
}

// HPSTransport sends commands over TCP. Each packet is a 4-byte big-endian length followed by
// the command or response bytes. The connection is opened on first use.
type HPSTransport struct {
	Config HPSConfig
	// Timeout bounds each exchange. Zero means no deadline.
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewHPSTransport returns a transport for a "host:<h>; port:<p>" connection string.
func NewHPSTransport(config string) (*HPSTransport, error) {
	c, err := ParseHPSConfig(config)
	if err != nil {
		return nil, err
	}
	return &HPSTransport{Config: c, Timeout: 30 * time.Second}, nil
}

func (h *HPSTransport) connect() error {
	if h.conn != nil {
		return nil
	}
	dial := h.dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: h.Timeout}).DialContext
	}
	conn, err := dial(context.Background(), "tcp", h.Config.Address())
	if err != nil {
		return errors.Wrapf(err, "could not connect to HPS at %s", h.Config.Address())
	}
	logger.Infof("connected to HPS at %s", h.Config.Address())
	h.conn = conn
	return nil
}

// SendCommand writes command as one packet and reads one response packet.
func (h *HPSTransport) SendCommand(command []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.connect(); err != nil {
		return nil, err
	}
	if h.Timeout > 0 {
		if err := h.conn.SetDeadline(time.Now().Add(h.Timeout)); err != nil {
			return nil, err
		}
	}
	packet := make([]byte, 4+len(command))
	binary.BigEndian.PutUint32(packet, uint32(len(command)))
	copy(packet[4:], command)
	if _, err := h.conn.Write(packet); err != nil {
		h.reset()
		return nil, errors.Wrap(err, "could not send command to HPS")
	}
	var size [4]byte
	if _, err := io.ReadFull(h.conn, size[:]); err != nil {
		h.reset()
		return nil, errors.Wrap(err, "could not read HPS response length")
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > maxPacketSize {
		h.reset()
		return nil, errors.Errorf("HPS response of %d bytes exceeds %d", n, maxPacketSize)
	}
	response := make([]byte, n)
	if _, err := io.ReadFull(h.conn, response); err != nil {
		h.reset()
		return nil, errors.Wrap(err, "could not read HPS response")
	}
	return response, nil
}

func (h *HPSTransport) reset() {
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}
}

// Close disconnects from the HPS.
func (h *HPSTransport) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}
