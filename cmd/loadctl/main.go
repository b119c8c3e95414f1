// Copyright 2022 The Armored Witness OS authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// loadctl boots the Process-Load Driver against a flash image file and
// prints the resulting Running set: each Running slot's name, address,
// version, short identifier and application identifier. Slots left out of
// the Running set are not printed.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/machinebox/progress"

	"github.com/trustflash/kernel/internal/config"
	"github.com/trustflash/kernel/internal/credential"
	"github.com/trustflash/kernel/internal/flashregion"
	"github.com/trustflash/kernel/internal/identity"
	"github.com/trustflash/kernel/internal/loader"
	"github.com/trustflash/kernel/internal/slot"
)

// Config mirrors cmd/witnessctl's flag-bound struct, generalized from a
// U2F device target to a flash image file.
type Config struct {
	image      string
	policyPath string
	status     bool
}

var conf *Config

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)

	conf = &Config{}

	flag.StringVar(&conf.image, "i", "", "flash image file to boot")
	flag.StringVar(&conf.policyPath, "c", "", "policy config YAML (default built-in)")
	flag.BoolVar(&conf.status, "s", false, "print the resulting Running set")
}

func main() {
	var err error

	defer func() {
		if flag.NFlag() == 0 {
			flag.PrintDefaults()
		}
		if err != nil {
			log.Fatalf("fatal error, %s", err)
		}
	}()

	flag.Parse()

	if conf.image == "" {
		err = fmt.Errorf("-i is required")
		return
	}

	switch {
	case conf.status:
		err = boot(conf.image, conf.policyPath)
	}
}

func boot(imagePath, policyPath string) error {
	c := config.Default()
	if policyPath != "" {
		var err error
		c, err = config.Load(policyPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	sum, err := preflightWithProgress(imagePath)
	if err != nil {
		return fmt.Errorf("preflight %q: %w", imagePath, err)
	}
	log.Printf("loadctl: %q CRC32 %#08x", imagePath, sum)

	region, err := flashregion.OpenFileRegion(imagePath, 0)
	if err != nil {
		return fmt.Errorf("open %q: %w", imagePath, err)
	}
	defer region.Close()

	trustedDER, err := c.TrustedKeys()
	if err != nil {
		return fmt.Errorf("trusted keys: %w", err)
	}
	verifier, err := credential.NewRSAVerifier(trustedDER)
	if err != nil {
		return fmt.Errorf("build verifier: %w", err)
	}

	d := &loader.Driver{
		Region: region,
		Table:  slot.NewTable(c.TableCapacity, slot.NopSink{}),
		Policy: &credential.Policy{
			RequireCredentials:  c.RequireCredentials,
			PreferProgramHeader: c.PreferProgramHeader,
			MaxRetries:          c.MaxRetries,
		},
		Engine:         credential.NewEngine(verifier),
		IdentityPolicy: selectIdentityPolicy(c.IdentifierStrategy, c.IdentifierPolicyVersion),
		NameSeed:       1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	running, err := d.Run(ctx)
	if err != nil {
		return fmt.Errorf("driver run: %w", err)
	}

	printRunning(running)
	return nil
}

// preflightWithProgress reads the whole image once, behind a
// progress-counting reader, and returns its CRC32 as a cheap sanity check
// before the Driver's chunked FileRegion scan begins. It follows update.go's
// readHTTP idiom (wrap the real io.Reader being consumed, tick a
// percent-complete log line) generalized from an OTA response body to a
// flash image file.
func preflightWithProgress(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr := progress.NewReader(f)
	if info.Size() > 0 {
		go func() {
			for p := range progress.NewTicker(ctx, pr, info.Size(), time.Second) {
				log.Printf("loadctl: preflight %q: %.0f%%", path, p.Percent())
			}
		}()
	}

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, pr); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

// selectIdentityPolicy maps a configured strategy name to its Policy. For
// "global", policyVersion (default "2.0.0" when empty) picks between
// GlobalHKDF and ConcreteFromKey via identity.SelectGlobal.
func selectIdentityPolicy(strategy, policyVersion string) identity.Policy {
	switch strategy {
	case "embedded_id":
		return identity.EmbeddedID{}
	case "payload_hash":
		return identity.PayloadHash{}
	case "package_name":
		return identity.PackageName{}
	case "counter":
		return &identity.Counter{}
	case "locally_unique":
		return identity.LocallyUniquePolicy{}
	case "global":
		if policyVersion == "" {
			policyVersion = "2.0.0"
		}
		return identity.SelectGlobal(*semver.New(policyVersion), []byte("loadctl"))
	default:
		return identity.ConcreteFromKey{}
	}
}

func printRunning(running []*slot.Slot) {
	log.Printf("loadctl: %d slot(s) Running", len(running))
	for _, s := range running {
		appID, short := s.Identity()
		shortStr := "locally-unique"
		if !short.IsLocallyUnique() {
			shortStr = fmt.Sprintf("%d", short.Value())
		}
		log.Printf("  %-20s addr=%#x version=%d short=%s appid=%s",
			s.DebugName, s.Container().StartAddress, s.Container().Version(), shortStr,
			base64.StdEncoding.EncodeToString(appID.Bytes()))
	}
}
