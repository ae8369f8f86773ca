// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// macMode is the MAC capability set from spec.md section 4.2: size() and
// sign(msg). For non-AEAD ciphers the packet layer calls new() once per
// direction (keyed from the key-derivation output) and then Write/Sum on
// the returned hash.Hash for every packet.
type macMode struct {
	keySize int
	new     func(key []byte) hash.Hash
}

var macModes = map[string]*macMode{
	"hmac-sha2-256": {
		keySize: 32,
		new: func(key []byte) hash.Hash {
			return hmac.New(sha256.New, key)
		},
	},
	"hmac-sha1": {
		keySize: 20,
		new: func(key []byte) hash.Hash {
			return hmac.New(sha1.New, key)
		},
	},
}

// noneMac describes the zero-size MAC of an AEAD direction (spec.md
// section 4.2). Nothing refers to it: for an AEAD cipher no MAC is
// negotiated or derived, and the cipher's create function receives a nil
// *macMode, since the authentication tag is integral to the cipher.
var noneMac = macMode{keySize: 0}
