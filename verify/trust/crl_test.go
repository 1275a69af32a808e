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

package trust_test

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-fpga-attest/dice"
	test "github.com/google/go-fpga-attest/testing"
	"github.com/google/go-fpga-attest/verify/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creation = time.Date(2022, time.May, 3, 9, 0, 0, 0, time.UTC)

func fakeSigner(t *testing.T) *test.DiceSigner {
	t.Helper()
	s, err := test.DefaultTestOnlyCertChain("agilex", creation)
	require.NoError(t, err)
	return s
}

func TestParseCRL(t *testing.T) {
	s := fakeSigner(t)
	der := s.CRLs[dice.DiceRootCRLURL()]

	fromDER, err := trust.ParseCRL(der)
	require.NoError(t, err)
	fromPEM, err := trust.ParseCRL(pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der}))
	require.NoError(t, err)
	assert.Equal(t, fromDER.Raw, fromPEM.Raw)

	_, err = trust.ParseCRL(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	assert.ErrorContains(t, err, "Expect X509 CRL")
	_, err = trust.ParseCRL([]byte("not a crl"))
	assert.Error(t, err)
}

func TestGetterCRLProvider(t *testing.T) {
	s := fakeSigner(t)
	p := &trust.GetterCRLProvider{Getter: test.FakeTSCIFromSigner(s)}

	crl, err := p.GetCRL(dice.FamilyCRLURL("agilex"))
	require.NoError(t, err)
	assert.NoError(t, crl.CheckSignatureFrom(s.Family))

	_, err = p.GetCRL(dice.FamilyCRLURL("stratix"))
	var unavailable trust.CRLUnavailableErr
	require.True(t, errors.As(err, &unavailable), "got %v, want CRLUnavailableErr", err)
	assert.Equal(t, dice.FamilyCRLURL("stratix"), unavailable.URL)
}

func TestGetterCRLProviderGarbage(t *testing.T) {
	url := dice.DiceRootCRLURL()
	getter := &test.Getter{Responses: map[string][]test.GetResponse{url: {{Occurrences: 1, Body: []byte("garbage")}}}}
	_, err := (&trust.GetterCRLProvider{Getter: getter}).GetCRL(url)
	var unavailable trust.CRLUnavailableErr
	assert.True(t, errors.As(err, &unavailable), "got %v, want CRLUnavailableErr", err)
	getter.Done(t)
}

func TestDirectoryCRLProvider(t *testing.T) {
	s := fakeSigner(t)
	dir := t.TempDir()
	der := s.CRLs[dice.DiceRootCRLURL()]
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DICE.crl"), der, 0644))

	p := &trust.DirectoryCRLProvider{Dir: dir}
	crl, err := p.GetCRL(dice.DiceRootCRLURL())
	require.NoError(t, err)
	assert.Equal(t, der, crl.Raw)

	_, err = p.GetCRL(dice.FamilyCRLURL("agilex"))
	assert.Error(t, err)
	_, err = p.GetCRL("https://tsci.intel.com/")
	assert.Error(t, err)
}

type countingProvider struct {
	inner trust.CRLProvider
	calls int
}

func (c *countingProvider) GetCRL(url string) (*x509.RevocationList, error) {
	c.calls++
	return c.inner.GetCRL(url)
}

func TestCachingCRLProvider(t *testing.T) {
	s := fakeSigner(t)
	inner := &countingProvider{inner: &trust.GetterCRLProvider{Getter: test.FakeTSCIFromSigner(s)}}
	now := creation
	p := &trust.CachingCRLProvider{Provider: inner, Now: func() time.Time { return now }}
	url := dice.DiceRootCRLURL()

	for i := 0; i < 3; i++ {
		_, err := p.GetCRL(url)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls, "fresh CRL should be served from cache")

	now = creation.Add(365 * 24 * time.Hour)
	_, err := p.GetCRL(url)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "stale CRL should be fetched again")
}

func TestSQLiteCRLCache(t *testing.T) {
	s := fakeSigner(t)
	path := filepath.Join(t.TempDir(), "cache", "crls.db")
	url := dice.FamilyCRLURL("agilex")
	now := creation

	inner := &countingProvider{inner: &trust.GetterCRLProvider{Getter: test.FakeTSCIFromSigner(s)}}
	cache, err := trust.OpenSQLiteCRLCache(path, inner)
	require.NoError(t, err)
	cache.Now = func() time.Time { return now }
	first, err := cache.GetCRL(url)
	require.NoError(t, err)
	n, err := cache.Entries()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, cache.Close())

	// A second process finds the CRL without fetching it.
	offline := &countingProvider{inner: &test.CRLProvider{}}
	reopened, err := trust.OpenSQLiteCRLCache(path, offline)
	require.NoError(t, err)
	defer reopened.Close()
	reopened.Now = func() time.Time { return now }
	second, err := reopened.GetCRL(url)
	require.NoError(t, err)
	assert.Equal(t, first.Raw, second.Raw)
	assert.Equal(t, 0, offline.calls)

	now = creation.Add(365 * 24 * time.Hour)
	_, err = reopened.GetCRL(url)
	assert.Error(t, err, "stale entry must be refetched from the provider")
	assert.Equal(t, 1, offline.calls)
}
