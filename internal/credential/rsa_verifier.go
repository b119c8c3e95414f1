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

package credential

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"

	"k8s.io/klog/v2"

	"github.com/trustflash/kernel/internal/container"
)

// RSAVerifier is the reference implementation of the Cryptographic
// Verifier contract (spec §4.2) for the FormatRsa3072Key(WithID) and
// FormatRsa4096Key(WithID) footer formats: PKCS#1 v1.5 signatures over
// SHA-512, checked against a fixed set of trusted public keys.
//
// RSA/SHA are the spec's own "external collaborator" primitives (spec §1);
// this is the out-of-scope 5% the spec defers to an implementation, not a
// gap this kernel needs to fill with a pack dependency.
type RSAVerifier struct {
	// Trusted maps a DER-encoded PKCS#1 public key to the parsed key. A
	// record's key bytes are looked up here before any signature check:
	// an untrusted key is Pass, not Reject, per §4.2 ("not understood by
	// this verifier").
	Trusted map[string]*rsa.PublicKey
}

// NewRSAVerifier builds a verifier trusting exactly the given DER-encoded
// PKCS#1 public keys.
func NewRSAVerifier(trustedDER [][]byte) (*RSAVerifier, error) {
	v := &RSAVerifier{Trusted: make(map[string]*rsa.PublicKey, len(trustedDER))}
	for _, der := range trustedDER {
		key, err := x509.ParsePKCS1PublicKey(der)
		if err != nil {
			return nil, err
		}
		v.Trusted[string(der)] = key
	}
	return v, nil
}

// Verify implements Verifier. It resolves synchronously but still returns
// a Future so callers always go through the suspend-at-verifier-boundary
// path of spec §5, regardless of which Verifier implementation is wired in.
func (v *RSAVerifier) Verify(payload []byte, rec container.Record) *Future {
	f := newFuture()

	keyDER, sig, embeddedID, ok := rec.RSAKeyAndSignature()
	if !ok {
		f.resolve(Pass, nil)
		return f
	}

	pub, trusted := v.lookup(keyDER)
	if !trusted {
		f.resolve(Pass, nil)
		return f
	}

	sum := sha512.Sum512(payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA512, sum[:], sig); err != nil {
		klog.V(2).Infof("credential: signature check failed: %v", err)
		f.resolve(Reject, nil)
		return f
	}
	_ = embeddedID // the Identifier Policy, not the verifier, consumes this.
	f.resolve(Accept, nil)
	return f
}

// lookup does a constant-time membership check against the trusted set so
// timing does not leak which, if any, trusted key a record's bytes are
// close to (spec §9's constant-time discipline applied here defensively,
// though the primary requirement targets identifier comparison).
func (v *RSAVerifier) lookup(keyDER []byte) (*rsa.PublicKey, bool) {
	for der, pub := range v.Trusted {
		if len(der) == len(keyDER) && subtle.ConstantTimeCompare([]byte(der), keyDER) == 1 {
			return pub, true
		}
	}
	return nil, false
}
