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

// Package linuxabi describes the Linux termios settings for an FPGA's serial mailbox console.
package linuxabi

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultBaudRate is the console speed of the secure device manager UART.
const DefaultBaudRate = 115200

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// BaudRate returns the termios speed constant for a numeric baud rate.
func BaudRate(baud int) (uint32, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	speed, ok := baudRates[baud]
	if !ok {
		return 0, fmt.Errorf("unsupported baud rate %d", baud)
	}
	return speed, nil
}

// MakeRaw configures t for 8N1 raw binary transfer at the given speed. Reads block until at
// least one byte arrives or the tenths-of-a-second timeout expires.
func MakeRaw(t *unix.Termios, speed uint32, timeoutDeciseconds uint8) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = timeoutDeciseconds
}
