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

package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-fpga-attest/tcbinfo"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Format is a reference manifest encoding.
type Format int

const (
	// FormatJSON is a JSON document.
	FormatJSON Format = iota
	// FormatCBOR is a CBOR map with integer keys.
	FormatCBOR
	// FormatYAML is a YAML document.
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	case FormatYAML:
		return "yaml"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat accepts "json", "cbor", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("unknown manifest format %q", s)
}

// Manifest is a reference integrity manifest: the measurements a device is expected to report.
type Manifest struct {
	TagID  uuid.UUID       `json:"tagId" yaml:"tagId" cbor:"1,keyasint"`
	Name   string          `json:"name,omitempty" yaml:"name,omitempty" cbor:"2,keyasint,omitempty"`
	Blocks []EvidenceBlock `json:"blocks" yaml:"blocks" cbor:"3,keyasint"`
}

var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// LoadManifest decodes a manifest.
func LoadManifest(data []byte, format Format) (*Manifest, error) {
	m := &Manifest{}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, m)
	case FormatCBOR:
		err = cborDecMode.Unmarshal(data, m)
	case FormatYAML:
		err = yaml.Unmarshal(data, m)
	default:
		return nil, fmt.Errorf("unknown manifest format %v", format)
	}
	if err != nil {
		return nil, fmt.Errorf("could not decode %v manifest: %v", format, err)
	}
	if m.TagID == uuid.Nil {
		return nil, fmt.Errorf("manifest %q has no tag id", m.Name)
	}
	return m, nil
}

// ReadManifestFile loads a manifest, choosing the format from the file extension.
func ReadManifestFile(path string) (*Manifest, error) {
	format, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadManifest(data, format)
}

// Encode serializes the manifest.
func (m *Manifest) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(m, "", "  ")
	case FormatCBOR:
		return cborEncMode.Marshal(m)
	case FormatYAML:
		return yaml.Marshal(m)
	}
	return nil, fmt.Errorf("unknown manifest format %v", format)
}

// TcbInfos maps every block of the manifest.
func (m *Manifest) TcbInfos() []tcbinfo.TcbInfo {
	return MapEvidenceBlocks(m.Blocks)
}
