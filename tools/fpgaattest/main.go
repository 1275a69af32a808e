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

// Package main implements a CLI tool for reading FPGA attestation evidence and checking it
// against revocation lists and reference manifests.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/go-fpga-attest/abi"
	"github.com/google/go-fpga-attest/tools/lib/cmdline"
	"github.com/google/go-fpga-attest/tools/lib/config"
	"github.com/google/go-fpga-attest/tools/lib/report"
	"github.com/google/logger"
	"github.com/urfave/cli/v3"
)

const (
	// Exit code 1 - tool usage error.
	exitTool = 1
	// Exit code 2 - the certificate chain was rejected or a certificate is revoked.
	exitRevoked = 2
	// Exit code 3 - a CRL could not be fetched or was not signed by the chain.
	exitCrl = 3
	// Exit code 4 - observed measurements do not match the reference.
	exitMismatch = 4
	// Exit code 5 - the device could not be reached or refused a command.
	exitDevice = 5
)

const (
	configFlag             = "config"
	verboseFlag            = "verbose"
	inFlag                 = "in"
	informFlag             = "inform"
	outFlag                = "out"
	outformFlag            = "outform"
	hpsFlag                = "hps"
	serialFlag             = "serial"
	baudRateFlag           = "baud-rate"
	clientIDFlag           = "client-id"
	recordFormatFlag       = "record-format"
	actorFlag              = "actor"
	crlDirFlag             = "crl-dir"
	crlCacheFlag           = "crl-cache"
	requireLeafCRLFlag     = "require-leaf-crl"
	leafEKUFlag            = "leaf-eku"
	manifestFlag           = "manifest"
	measurementsFlag       = "measurements"
	permitUnreferencedFlag = "permit-unreferenced"
	certTypeFlag           = "type"
	fieldFlag              = "field"
	encodingFlag           = "encoding"
	toActorFlag            = "to-actor"
)

// exitErr carries the process exit code of a failed command.
type exitErr struct {
	error
	code int
}

func (e *exitErr) Unwrap() error { return e.error }

func dieWith(err error, code int) error {
	return &exitErr{error: err, code: code}
}

func exitCode(err error) int {
	var e *exitErr
	if errors.As(err, &e) {
		return e.code
	}
	return exitTool
}

var initLogging sync.Once

var (
	outformUsage = "Output format. One of " + strings.Join(report.Outforms, ", ") + "."
	informUsage  = "Input format. One of " + strings.Join(cmdline.Informs, ", ") +
		". auto reads files as binary."
)

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: hpsFlag, Usage: "HPS mailbox service as \"host:<h>; port:<p>\""},
		&cli.StringFlag{Name: serialFlag, Usage: "Path of the tty connected to the mailbox console"},
		&cli.IntFlag{Name: baudRateFlag, Usage: "Serial line speed"},
		&cli.IntFlag{Name: clientIDFlag, Usage: "Mailbox client id [0-15]"},
	}
}

func crlFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: crlDirFlag, Usage: "Read CRLs from this directory instead of the network"},
		&cli.StringFlag{Name: crlCacheFlag, Usage: "SQLite database caching downloaded CRLs"},
		&cli.BoolFlag{Name: requireLeafCRLFlag, Usage: "Reject a leaf certificate without a CRL distribution point"},
	}
}

func recordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: recordFormatFlag, Usage: "Measurement record header layout: v1 or v2"},
		&cli.StringFlag{Name: actorFlag, Usage: "Byte order producer of the records: firmware or service", Value: abi.Firmware.String()},
	}
}

func outFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: outFlag, Usage: "Path to output file, or - for stdout", Value: "-"},
		&cli.StringFlag{Name: outformFlag, Usage: outformUsage},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var result []cli.Flag
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}

// settings loads --config and applies every flag the user set on top of it.
func settings(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String(configFlag))
	if err != nil {
		return nil, err
	}
	if cmd.IsSet(verboseFlag) {
		cfg.Verbose = cmd.Bool(verboseFlag)
	}
	if cmd.IsSet(hpsFlag) {
		cfg.Device.HPS = cmd.String(hpsFlag)
	}
	if cmd.IsSet(serialFlag) {
		cfg.Device.Serial = cmd.String(serialFlag)
	}
	if cmd.IsSet(baudRateFlag) {
		cfg.Device.BaudRate = int(cmd.Int(baudRateFlag))
	}
	if cmd.IsSet(clientIDFlag) {
		cfg.Device.ClientID = int(cmd.Int(clientIDFlag))
	}
	if cmd.IsSet(recordFormatFlag) {
		cfg.Device.RecordFormat = cmd.String(recordFormatFlag)
	}
	if cmd.IsSet(crlDirFlag) {
		cfg.CRL.Directory = cmd.String(crlDirFlag)
	}
	if cmd.IsSet(crlCacheFlag) {
		cfg.CRL.CachePath = cmd.String(crlCacheFlag)
	}
	if cmd.IsSet(requireLeafCRLFlag) {
		cfg.CRL.RequireLeaf = cmd.Bool(requireLeafCRLFlag)
	}
	if cmd.IsSet(outformFlag) {
		cfg.Output = cmd.String(outformFlag)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initLogging.Do(func() {
		var w io.Writer = io.Discard
		if cfg.Verbose {
			w = os.Stderr
		}
		logger.Init("fpgaattest", false, false, w)
	})
	return cfg, nil
}

type action func(ctx context.Context, cmd *cli.Command, cfg *config.Config, out io.Writer) error

// run adapts an action to cli.ActionFunc, loading settings first. out receives the command's
// primary output.
func run(out io.Writer, a action) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := settings(cmd)
		if err != nil {
			return dieWith(err, exitTool)
		}
		return a(ctx, cmd, cfg, out)
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "fpgaattest",
		Usage: "Read FPGA attestation evidence and check it against CRLs and reference manifests",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: configFlag, Usage: "TOML, YAML or JSON settings file. Flags override its values."},
			&cli.BoolFlag{Name: verboseFlag, Aliases: []string{"v"}, Usage: "Enable verbose logging"},
		},
		Commands: []*cli.Command{
			{
				Name:   "show-chain",
				Usage:  "Summarize a PEM certificate chain and the measurements it carries",
				Flags:  flags([]cli.Flag{&cli.StringFlag{Name: inFlag, Usage: "PEM chain, leaf first. Stdin is \"-\".", Value: "-"}}, outFlags()),
				Action: run(out, showChain),
			},
			{
				Name:  "verify-chain",
				Usage: "Check every certificate of a PEM chain against its issuer's CRL",
				Flags: flags([]cli.Flag{
					&cli.StringFlag{Name: inFlag, Usage: "PEM chain, leaf first. Stdin is \"-\".", Value: "-"},
					&cli.StringFlag{Name: leafEKUFlag, Usage: "Require the leaf to have this extended key usage: attest-loc, attest-init, identity-loc, identity-init or a dotted OID"},
				}, crlFlags(), outFlags()),
				Action: run(out, verifyChain),
			},
			{
				Name:  "map-manifest",
				Usage: "Convert a reference integrity manifest to measurements",
				Flags: flags([]cli.Flag{
					&cli.StringFlag{Name: inFlag, Usage: "Manifest file. The format comes from the extension: json, yaml or cbor.", Required: true},
				}, outFlags()),
				Action: run(out, mapManifest),
			},
			{
				Name:  "map-records",
				Usage: "Convert device measurement records to measurements",
				Flags: flags([]cli.Flag{
					&cli.StringFlag{Name: inFlag, Usage: "Measurement records. Stdin is \"-\".", Value: "-"},
					&cli.StringFlag{Name: informFlag, Usage: informUsage, Value: "auto"},
				}, recordFlags(), outFlags()),
				Action: run(out, mapRecords),
			},
			{
				Name:  "validate",
				Usage: "Compare the measurements of a certificate chain and device records with a manifest",
				Flags: flags([]cli.Flag{
					&cli.StringFlag{Name: manifestFlag, Usage: "Reference manifest file", Required: true},
					&cli.StringFlag{Name: inFlag, Usage: "PEM chain whose certificates carry measurements"},
					&cli.StringFlag{Name: measurementsFlag, Usage: "Binary measurement records read from the device"},
					&cli.BoolFlag{Name: permitUnreferencedFlag, Usage: "Allow observed measurements the manifest does not mention"},
				}, recordFlags()),
				Action: run(out, validateEvidence),
			},
			{
				Name:  "show-block0",
				Usage: "Decode a signed block0 entry, or re-encode it for another actor",
				Flags: flags([]cli.Flag{
					&cli.StringFlag{Name: inFlag, Usage: "Block0 entry. Stdin is \"-\".", Value: "-"},
					&cli.StringFlag{Name: informFlag, Usage: informUsage, Value: "auto"},
					&cli.StringFlag{Name: actorFlag, Usage: "Byte order producer of the entry: firmware or service", Value: abi.Firmware.String()},
					&cli.StringFlag{Name: toActorFlag, Usage: "Write the entry re-encoded for this actor instead of a summary"},
				}, outFlags()),
				Action: run(out, showBlock0),
			},
			{
				Name:  "get-cert",
				Usage: "Request an attestation certificate from the device",
				Flags: flags([]cli.Flag{
					&cli.StringFlag{Name: certTypeFlag, Usage: "Certificate to request: firmware, uds_efuse_alias, uds_iid_puf_alias or device_id_enrollment", Value: abi.FirmwareCertificate.String()},
					&cli.StringFlag{Name: outFlag, Usage: "Path to output file, or - for stdout", Value: "-"},
					&cli.StringFlag{Name: encodingFlag, Usage: "Certificate encoding: pem or der", Value: "pem"},
				}, deviceFlags()),
				Action: run(out, getCert),
			},
			{
				Name:   "get-measurements",
				Usage:  "Request the measurement records from the device",
				Flags:  flags([]cli.Flag{&cli.BoolFlag{Name: "raw", Usage: "Write the response bytes instead of mapped measurements"}}, deviceFlags(), recordFlags(), outFlags()),
				Action: run(out, getMeasurements),
			},
			{
				Name:  "endianness",
				Usage: "Show whether a structure field must be byte swapped for an actor",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: fieldFlag, Usage: "Structure field name. All fields if unset."},
					&cli.StringFlag{Name: actorFlag, Usage: "firmware or service", Value: abi.Firmware.String()},
				},
				Action: run(out, endianness),
			},
			{
				Name:  "write-config",
				Usage: "Write the effective settings to a TOML, YAML or JSON file",
				Flags: flags([]cli.Flag{
					&cli.StringFlag{Name: outFlag, Usage: "Settings file to write", Required: true},
				}, deviceFlags(), crlFlags(), recordFlags()),
				Action: run(out, writeConfig),
			},
		},
	}
}

func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitCode(err))
	}
}
