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

package trust

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/logger"
)

// CRLProvider returns the revocation list published at a distribution point.
type CRLProvider interface {
	GetCRL(url string) (*x509.RevocationList, error)
}

// CRLUnavailableErr represents a problem with fetching a CRL from its distribution point.
type CRLUnavailableErr struct {
	error
	URL string
}

// Unwrap returns the underlying fetch or parse error.
func (e CRLUnavailableErr) Unwrap() error { return e.error }

// ParseCRL parses a DER or PEM ("X509 CRL") encoded revocation list.
func ParseCRL(data []byte) (*x509.RevocationList, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		block, _ := pem.Decode(trimmed)
		if block == nil {
			return nil, fmt.Errorf("could not decode CRL PEM block")
		}
		if block.Type != "X509 CRL" {
			return nil, fmt.Errorf("the CRL PEM block type is %s. Expect X509 CRL", block.Type)
		}
		data = block.Bytes
	}
	return x509.ParseRevocationList(data)
}

// GetterCRLProvider downloads CRLs with an HTTPSGetter.
type GetterCRLProvider struct {
	// Getter fetches the distribution point. If nil, uses DefaultHTTPSGetter().
	Getter HTTPSGetter
}

// GetCRL fetches and parses the CRL at url.
func (p *GetterCRLProvider) GetCRL(url string) (*x509.RevocationList, error) {
	getter := p.Getter
	if getter == nil {
		getter = DefaultHTTPSGetter()
	}
	data, err := getter.Get(url)
	if err != nil {
		return nil, CRLUnavailableErr{error: err, URL: url}
	}
	crl, err := ParseCRL(data)
	if err != nil {
		return nil, CRLUnavailableErr{error: fmt.Errorf("could not parse CRL from %s: %v", url, err), URL: url}
	}
	return crl, nil
}

// DirectoryCRLProvider serves CRLs from files named after the last path element of their
// distribution point, for verification without network access.
type DirectoryCRLProvider struct {
	Dir string
}

// GetCRL reads the CRL file for url from the directory.
func (p *DirectoryCRLProvider) GetCRL(rawurl string) (*x509.RevocationList, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, CRLUnavailableErr{error: err, URL: rawurl}
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return nil, CRLUnavailableErr{error: fmt.Errorf("distribution point %q has no file name", rawurl), URL: rawurl}
	}
	data, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		return nil, CRLUnavailableErr{error: err, URL: rawurl}
	}
	crl, err := ParseCRL(data)
	if err != nil {
		return nil, CRLUnavailableErr{error: fmt.Errorf("could not parse CRL file %s: %v", name, err), URL: rawurl}
	}
	return crl, nil
}

// CachingCRLProvider keeps CRLs in memory until their NextUpdate time. CRLs without a
// NextUpdate are not cached.
type CachingCRLProvider struct {
	// Provider fetches CRLs that are missing or stale.
	Provider CRLProvider
	// Now returns the current time. If nil, uses time.Now.
	Now func() time.Time

	mu   sync.Mutex
	crls map[string]*x509.RevocationList
}

func (p *CachingCRLProvider) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// GetCRL returns the cached CRL for url if it is still current, or fetches it.
func (p *CachingCRLProvider) GetCRL(url string) (*x509.RevocationList, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if crl, ok := p.crls[url]; ok && p.now().Before(crl.NextUpdate) {
		return crl, nil
	}
	crl, err := p.Provider.GetCRL(url)
	if err != nil {
		return nil, err
	}
	if crl.NextUpdate.IsZero() {
		logger.Warningf("CRL from %s has no next update time, not caching it", url)
		return crl, nil
	}
	if p.crls == nil {
		p.crls = make(map[string]*x509.RevocationList)
	}
	p.crls[url] = crl
	return crl, nil
}
