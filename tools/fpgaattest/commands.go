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

package main

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-fpga-attest/abi"
	"github.com/google/go-fpga-attest/client"
	"github.com/google/go-fpga-attest/dice"
	"github.com/google/go-fpga-attest/evidence"
	"github.com/google/go-fpga-attest/tcbinfo"
	"github.com/google/go-fpga-attest/tools/lib/cmdline"
	"github.com/google/go-fpga-attest/tools/lib/config"
	"github.com/google/go-fpga-attest/tools/lib/report"
	"github.com/google/go-fpga-attest/validate"
	"github.com/google/go-fpga-attest/verify"
	"github.com/google/go-fpga-attest/verify/trust"
	"github.com/google/logger"
	"github.com/urfave/cli/v3"
)

var ekuNames = map[string]asn1.ObjectIdentifier{
	"attest-loc":    dice.OidKpAttestLoc,
	"attest-init":   dice.OidKpAttestInit,
	"identity-loc":  dice.OidKpIdentityLoc,
	"identity-init": dice.OidKpIdentityInit,
}

func parseEKU(s string) (asn1.ObjectIdentifier, error) {
	if oid, ok := ekuNames[s]; ok {
		return oid, nil
	}
	var oid asn1.ObjectIdentifier
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("extended key usage %q is neither a known name nor a dotted OID", s)
		}
		oid = append(oid, n)
	}
	if len(oid) < 2 {
		return nil, fmt.Errorf("extended key usage OID %q is too short", s)
	}
	return oid, nil
}

func writeOut(cmd *cli.Command, out io.Writer, data []byte) error {
	path := cmd.String(outFlag)
	if path == "" || path == "-" {
		_, err := out.Write(data)
		return err
	}
	if err := cmdline.WriteOutput(path, data); err != nil {
		return dieWith(fmt.Errorf("could not write %q: %v", path, err), exitTool)
	}
	return nil
}

func readChain(cmd *cli.Command) ([]*x509.Certificate, error) {
	path := cmd.String(inFlag)
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, dieWith(fmt.Errorf("could not read certificate chain %q: %v", path, err), exitTool)
	}
	chain, err := dice.ParseCertChain(data)
	if err != nil {
		return nil, dieWith(fmt.Errorf("could not parse certificate chain %q: %v", path, err), exitTool)
	}
	return chain, nil
}

func showChain(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	chain, err := readChain(cmd)
	if err != nil {
		return err
	}
	summary, err := report.Chain(chain, cfg.Output)
	if err != nil {
		if summary == nil {
			return dieWith(err, exitTool)
		}
		logger.Warningf("incomplete chain summary: %v", err)
	}
	return writeOut(cmd, out, summary)
}

// crlProvider builds the CRL source described by cfg. The returned function releases it.
func crlProvider(cfg *config.Config) (verify.CRLProvider, func() error, error) {
	var source trust.CRLProvider
	if cfg.CRL.Directory != "" {
		source = &trust.DirectoryCRLProvider{Dir: cfg.CRL.Directory}
	} else {
		source = &trust.GetterCRLProvider{Getter: &trust.RetryHTTPSGetter{
			Timeout:       cfg.CRLTimeout(),
			MaxRetryDelay: 30 * time.Second,
			Getter:        &trust.SimpleHTTPSGetter{},
		}}
	}
	if cfg.CRL.CachePath == "" {
		return &trust.CachingCRLProvider{Provider: source}, func() error { return nil }, nil
	}
	cache, err := trust.OpenSQLiteCRLCache(cfg.CRL.CachePath, source)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache.Close, nil
}

func verifyExitCode(err error) int {
	var unavailable trust.CRLUnavailableErr
	var signature *verify.CRLSignatureErr
	var revoked *verify.RevokedIntermediateErr
	switch {
	case errors.As(err, &revoked):
		return exitRevoked
	case errors.As(err, &unavailable), errors.As(err, &signature):
		return exitCrl
	}
	return exitTool
}

type chainResult struct {
	Valid        bool   `json:"valid" yaml:"valid"`
	Certificates int    `json:"certificates" yaml:"certificates"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

func verifyChain(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	chain, err := readChain(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet(leafEKUFlag) {
		oid, err := parseEKU(cmd.String(leafEKUFlag))
		if err != nil {
			return dieWith(err, exitTool)
		}
		if len(chain) == 0 || !verify.ExtendedKeyUsage(chain[0], oid) {
			return dieWith(fmt.Errorf("leaf certificate lacks extended key usage %v", oid), exitRevoked)
		}
	}
	provider, closeProvider, err := crlProvider(cfg)
	if err != nil {
		return dieWith(fmt.Errorf("could not open CRL cache: %v", err), exitTool)
	}
	defer closeProvider()

	v := &verify.CRLVerifier{Provider: provider}
	ok, verr := v.VerifyChain(chain, cfg.CRL.RequireLeaf)
	result := chainResult{Valid: ok, Certificates: len(chain)}
	if verr != nil {
		result.Error = verr.Error()
	}
	var text []byte
	if cfg.Output == "text" {
		status := "VALID"
		if !ok {
			status = "REJECTED"
		}
		text = []byte(fmt.Sprintf("%s (%d certificates)\n", status, len(chain)))
	} else if text, err = report.Marshal(result, cfg.Output); err != nil {
		return dieWith(err, exitTool)
	}
	if err := writeOut(cmd, out, text); err != nil {
		return err
	}
	if verr != nil {
		return dieWith(fmt.Errorf("could not verify certificate chain: %w", verr), verifyExitCode(verr))
	}
	if !ok {
		return dieWith(errors.New("certificate chain rejected"), exitRevoked)
	}
	return nil
}

func writeTcbInfos(cmd *cli.Command, cfg *config.Config, out io.Writer, ts []tcbinfo.TcbInfo) error {
	data, err := report.TcbInfos(ts, cfg.Output)
	if err != nil {
		return dieWith(err, exitTool)
	}
	return writeOut(cmd, out, data)
}

func mapManifest(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	m, err := evidence.ReadManifestFile(cmd.String(inFlag))
	if err != nil {
		return dieWith(err, exitTool)
	}
	logger.Infof("manifest %v (%q) has %d blocks", m.TagID, m.Name, len(m.Blocks))
	return writeTcbInfos(cmd, cfg, out, m.TcbInfos())
}

func recordOptions(cmd *cli.Command, cfg *config.Config) (abi.RecordFormat, abi.Actor, error) {
	format, err := abi.ParseRecordFormat(cfg.Device.RecordFormat)
	if err != nil {
		return 0, 0, err
	}
	actor, err := abi.ParseActor(cmd.String(actorFlag))
	if err != nil {
		return 0, 0, err
	}
	return format, actor, nil
}

func mapRecordBytes(data []byte, format abi.RecordFormat, actor abi.Actor) ([]tcbinfo.TcbInfo, error) {
	records, err := abi.ParseMeasurementRecords(data, format, actor)
	if err != nil {
		return nil, err
	}
	return evidence.MapMeasurementRecords(records)
}

func mapRecords(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	format, actor, err := recordOptions(cmd, cfg)
	if err != nil {
		return dieWith(err, exitTool)
	}
	data, err := cmdline.ReadInput("measurement records", cmd.String(inFlag), cmd.String(informFlag))
	if err != nil {
		return dieWith(err, exitTool)
	}
	ts, err := mapRecordBytes(data, format, actor)
	if err != nil {
		return dieWith(fmt.Errorf("could not map measurement records: %v", err), exitTool)
	}
	return writeTcbInfos(cmd, cfg, out, ts)
}

func validateEvidence(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	if !cmd.IsSet(inFlag) && !cmd.IsSet(measurementsFlag) {
		return dieWith(fmt.Errorf("need --%s or --%s", inFlag, measurementsFlag), exitTool)
	}
	m, err := evidence.ReadManifestFile(cmd.String(manifestFlag))
	if err != nil {
		return dieWith(err, exitTool)
	}
	var observed []tcbinfo.TcbInfo
	if cmd.IsSet(inFlag) {
		chain, err := readChain(cmd)
		if err != nil {
			return err
		}
		for i, cert := range chain {
			ts, err := dice.CertificateTcbInfos(cert)
			if err != nil {
				return dieWith(fmt.Errorf("certificate %d: %v", i, err), exitTool)
			}
			observed = append(observed, ts...)
		}
	}
	if cmd.IsSet(measurementsFlag) {
		format, actor, err := recordOptions(cmd, cfg)
		if err != nil {
			return dieWith(err, exitTool)
		}
		data, err := cmdline.ReadInput("measurement records", cmd.String(measurementsFlag), "bin")
		if err != nil {
			return dieWith(err, exitTool)
		}
		ts, err := mapRecordBytes(data, format, actor)
		if err != nil {
			return dieWith(fmt.Errorf("could not map measurement records: %v", err), exitTool)
		}
		observed = append(observed, ts...)
	}
	opts := &validate.Options{
		Reference:          m.TcbInfos(),
		PermitUnreferenced: cmd.Bool(permitUnreferencedFlag),
	}
	if err := validate.Measurements(observed, opts); err != nil {
		return dieWith(fmt.Errorf("evidence does not match manifest %v: %v", m.TagID, err), exitMismatch)
	}
	_, err = fmt.Fprintf(out, "%d observed measurements match manifest %v\n", len(observed), m.TagID)
	return err
}

type block0Summary struct {
	Magic        string `json:"magic" yaml:"magic"`
	LengthOffset uint32 `json:"lengthOffset" yaml:"lengthOffset"`
	DataLen      uint32 `json:"dataLen" yaml:"dataLen"`
	SigLen       uint32 `json:"sigLen" yaml:"sigLen"`
	ShaLen       uint32 `json:"shaLen" yaml:"shaLen"`
	Data         string `json:"data" yaml:"data"`
	Signature    string `json:"signature" yaml:"signature"`
}

func showBlock0(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	actor, err := abi.ParseActor(cmd.String(actorFlag))
	if err != nil {
		return dieWith(err, exitTool)
	}
	data, err := cmdline.ReadInput("block0 entry", cmd.String(inFlag), cmd.String(informFlag))
	if err != nil {
		return dieWith(err, exitTool)
	}
	e, err := abi.ParseBlock0Entry(data, actor)
	if err != nil {
		return dieWith(fmt.Errorf("could not parse block0 entry: %v", err), exitTool)
	}
	if cmd.IsSet(toActorFlag) {
		to, err := abi.ParseActor(cmd.String(toActorFlag))
		if err != nil {
			return dieWith(err, exitTool)
		}
		raw, err := e.Bytes(to)
		if err != nil {
			return dieWith(err, exitTool)
		}
		return writeOut(cmd, out, raw)
	}
	s := block0Summary{
		Magic:        fmt.Sprintf("0x%08x", e.Magic),
		LengthOffset: e.LengthOffset,
		DataLen:      e.DataLen,
		SigLen:       e.SigLen,
		ShaLen:       e.ShaLen,
		Data:         hex.EncodeToString(e.Data),
		Signature:    hex.EncodeToString(e.Signature),
	}
	if cfg.Output == "text" {
		text := fmt.Sprintf("magic=%s length_offset=0x%x data_len=%d sig_len=%d sha_len=%d\n",
			s.Magic, s.LengthOffset, s.DataLen, s.SigLen, s.ShaLen)
		return writeOut(cmd, out, []byte(text))
	}
	b, err := report.Marshal(s, cfg.Output)
	if err != nil {
		return dieWith(err, exitTool)
	}
	return writeOut(cmd, out, b)
}

// openDevice returns the transport cfg names, preferring HPS over serial.
func openDevice(cfg *config.Config) (transport, error) {
	if cfg.Device.HPS != "" {
		t, err := client.NewHPSTransport(cfg.Device.HPS)
		if err != nil {
			return nil, err
		}
		t.Timeout = cfg.DeviceTimeout()
		return t, nil
	}
	if cfg.Device.Serial != "" {
		return openSerial(cfg)
	}
	return nil, fmt.Errorf("no device configured. Set --%s or --%s", hpsFlag, serialFlag)
}

// transport is a device connection that must be closed.
type transport interface {
	client.Transport
	Close() error
}

func commandLayer(cfg *config.Config) client.CommandLayer {
	return &client.MailboxCommandLayer{ClientID: uint8(cfg.Device.ClientID)}
}

func getCert(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	certType, err := abi.ParseCertificateRequestType(cmd.String(certTypeFlag))
	if err != nil {
		return dieWith(err, exitTool)
	}
	encoding := cmd.String(encodingFlag)
	if encoding != "pem" && encoding != "der" {
		return dieWith(fmt.Errorf("unknown --%s=%s, want pem or der", encodingFlag, encoding), exitTool)
	}
	t, err := openDevice(cfg)
	if err != nil {
		return dieWith(err, exitDevice)
	}
	defer t.Close()
	cert, err := client.GetCertificateFromDevice(t, commandLayer(cfg), certType)
	if err != nil {
		return dieWith(err, exitDevice)
	}
	data := cert.Raw
	if encoding == "pem" {
		data = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	}
	return writeOut(cmd, out, data)
}

func getMeasurements(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	format, _, err := recordOptions(cmd, cfg)
	if err != nil {
		return dieWith(err, exitTool)
	}
	t, err := openDevice(cfg)
	if err != nil {
		return dieWith(err, exitDevice)
	}
	defer t.Close()
	if cmd.Bool("raw") {
		body, err := client.GetRawMeasurementsFromDevice(t, commandLayer(cfg))
		if err != nil {
			return dieWith(err, exitDevice)
		}
		return writeOut(cmd, out, body)
	}
	records, err := client.GetMeasurementsFromDevice(t, commandLayer(cfg), format)
	if err != nil {
		return dieWith(err, exitDevice)
	}
	ts, err := evidence.MapMeasurementRecords(records)
	if err != nil {
		return dieWith(fmt.Errorf("could not map measurement records: %v", err), exitTool)
	}
	return writeTcbInfos(cmd, cfg, out, ts)
}

func endianness(_ context.Context, cmd *cli.Command, _ *config.Config, out io.Writer) error {
	actor, err := abi.ParseActor(cmd.String(actorFlag))
	if err != nil {
		return dieWith(err, exitTool)
	}
	var fields []abi.Field
	if cmd.IsSet(fieldFlag) {
		f, err := abi.ParseField(cmd.String(fieldFlag))
		if err != nil {
			return dieWith(err, exitTool)
		}
		fields = []abi.Field{f}
	} else {
		fields = abi.AllFields()
	}
	for _, f := range fields {
		action, err := abi.LookupEndiannessAction(f, actor)
		if err != nil {
			return dieWith(err, exitTool)
		}
		if _, err := fmt.Fprintf(out, "%v\t%v\n", f, action); err != nil {
			return err
		}
	}
	return nil
}

func writeConfig(_ context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error {
	path := cmd.String(outFlag)
	if err := config.Save(cfg, path); err != nil {
		return dieWith(err, exitTool)
	}
	_, err := fmt.Fprintf(out, "wrote %s\n", path)
	return err
}
