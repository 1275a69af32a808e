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

// Package cmdline implements command-line utilities for tools.
package cmdline

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// InputType represents how data is coming in, either via file or string.
type InputType int

const (
	// Stringy indicates the input is coming from an argument string.
	// "auto" behavior prefers hexadecimal.
	Stringy = iota
	// Filey indicates the input is coming from a file.
	// "auto" behavior prefers binary.
	Filey
)

// Informs lists the accepted -inform values.
var Informs = []string{"auto", "bin", "hex", "base64"}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// decodeHex accepts dumps split over lines and an optional 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = stripSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(stripSpace(s))
}

func decode(name, value string, decoder func(string) ([]byte, error)) ([]byte, error) {
	b, err := decoder(value)
	if err != nil {
		return nil, fmt.Errorf("%s could not be decoded: %v", name, err)
	}
	return b, nil
}

func parseBytesFromString(name string, in string, inform string) ([]byte, error) {
	if !utf8.ValidString(in) {
		return nil, fmt.Errorf("could not decode %s contents as a UTF-8 string. Try -inform=bin", name)
	}
	// Strict forms first.
	switch inform {
	case "hex":
		return decode(name, in, decodeHex)
	case "base64":
		return decode(name, in, decodeBase64)
	case "auto":
		// "auto" means to try hex encoding first, then base64.
		if b, err := decodeHex(in); err == nil {
			return b, nil
		}
		return decode(name, in, decodeBase64)
	default:
		return nil, fmt.Errorf("unknown -inform=%s", inform)
	}
}

func isBinForm(inform string, intype InputType) bool {
	if inform == "bin" {
		return true
	}
	return (intype == Filey && inform == "auto")
}

// ParseBytes returns the denoted bytes from the reader `in` or an error. Device responses vary
// in length, so any number of bytes is accepted.
func ParseBytes(name string, in io.Reader, inform string, intype InputType) ([]byte, error) {
	inbytes, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	// Empty input is treated as absent rather than as zero bytes of data.
	if len(inbytes) == 0 {
		return nil, nil
	}
	if isBinForm(inform, intype) {
		return inbytes, nil
	}
	return parseBytesFromString(name, strings.TrimSpace(string(inbytes)), inform)
}

// ReadInput reads the bytes named by path, or stdin if path is "-".
func ReadInput(name, path, inform string) ([]byte, error) {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("could not open %s %q: %v", name, path, err)
		}
		defer f.Close()
		in = f
	}
	b, err := ParseBytes(name, in, inform, Filey)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%s %q is empty", name, path)
	}
	return b, nil
}

// WriteOutput writes data to path, or stdout if path is "" or "-".
func WriteOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
