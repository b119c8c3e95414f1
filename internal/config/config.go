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

// Package config loads the YAML policy configuration this module's
// components are constructed from: the trusted key set, the
// require_credentials default, the slot table capacity, the identifier
// strategy chain, and the identifier policy's declared semantic version.
package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/coreos/go-semver/semver"
	"gopkg.in/yaml.v3"
)

// Config is the top-level policy configuration.
type Config struct {
	// RequireCredentials is the Credentials Checking Policy's default
	// require_credentials() answer (spec §4.3).
	RequireCredentials bool `yaml:"require_credentials"`

	// PreferProgramHeader resolves spec §4.1's header precedence.
	PreferProgramHeader bool `yaml:"prefer_program_header"`

	// MaxRetries bounds verifier Error retries (spec §5).
	MaxRetries int `yaml:"max_retries"`

	// TableCapacity is the Process Slot Table's fixed capacity N
	// (spec §4.6).
	TableCapacity int `yaml:"table_capacity"`

	// IdentifierStrategy names the Identifier Policy strategy to use:
	// one of "concrete_from_key", "embedded_id", "payload_hash",
	// "package_name", "counter", "locally_unique", or "global".
	IdentifierStrategy string `yaml:"identifier_strategy"`

	// IdentifierPolicyVersion gates the "global" strategy's HKDF variant
	// on-or-after a configured semantic version, mirroring
	// configureWakeHandler's cutover idiom.
	IdentifierPolicyVersion string `yaml:"identifier_policy_version"`

	// TrustedKeysDER is the set of trusted RSA public keys, each
	// base64-encoded DER PKCS#1, for the reference RSAVerifier.
	TrustedKeysDER []string `yaml:"trusted_keys_der"`
}

// Default returns the reference configuration: require credentials,
// prefer the Program Header, retry verifier errors 3 times, a modestly
// sized slot table, and the ConcreteFromKey identifier strategy.
func Default() Config {
	return Config{
		RequireCredentials:  true,
		PreferProgramHeader: true,
		MaxRetries:          3,
		TableCapacity:       16,
		IdentifierStrategy:  "concrete_from_key",
	}
}

// Load reads and validates a YAML Config file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %q: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("parse %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%q: %w", path, err)
	}
	return c, nil
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.TableCapacity <= 0 {
		return fmt.Errorf("table_capacity must be positive, got %d", c.TableCapacity)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	switch c.IdentifierStrategy {
	case "concrete_from_key", "embedded_id", "payload_hash", "package_name", "counter", "locally_unique", "global":
	default:
		return fmt.Errorf("unknown identifier_strategy %q", c.IdentifierStrategy)
	}
	if c.IdentifierPolicyVersion != "" {
		if _, err := semver.NewVersion(c.IdentifierPolicyVersion); err != nil {
			return fmt.Errorf("invalid identifier_policy_version %q: %w", c.IdentifierPolicyVersion, err)
		}
	}
	for i, k := range c.TrustedKeysDER {
		if _, err := base64.StdEncoding.DecodeString(k); err != nil {
			return fmt.Errorf("trusted_keys_der[%d]: %w", i, err)
		}
	}
	return nil
}

// TrustedKeys decodes TrustedKeysDER into raw DER bytes.
func (c Config) TrustedKeys() ([][]byte, error) {
	out := make([][]byte, 0, len(c.TrustedKeysDER))
	for i, k := range c.TrustedKeysDER {
		der, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("trusted_keys_der[%d]: %w", i, err)
		}
		out = append(out, der)
	}
	return out, nil
}
