// Package apikey hashes and verifies the admin API keys of the glyph server.
//
// A hash is 1 byte of version, followed by 20 bytes of salt, followed by 32 bytes of scrypt.
// The server config stores only the base64 hash, and the plaintext key lives
// with the operator.
package apikey

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const hashVersion1 = 1
const saltSizeV1 = 20
const scryptHashSizeV1 = 32
const scryptNV1 = 16384
const scryptrV1 = 8
const scryptpV1 = 1
const hashLenV1 = 1 + saltSizeV1 + scryptHashSizeV1

// Length in bytes of a generated key, before encoding
const keyBytes = 24

func createSalt() []byte {
	s := [saltSizeV1]byte{}
	if n, _ := rand.Read(s[:]); n != saltSizeV1 {
		panic("Error creating key salt")
	}
	return s[:]
}

func hashWithSalt(salt []byte, key string) []byte {
	dk, err := scrypt.Key([]byte(key), salt, scryptNV1, scryptrV1, scryptpV1, scryptHashSizeV1)
	if err != nil {
		panic(fmt.Sprintf("Error hashing key: %v", err))
	}
	final := [hashLenV1]byte{}
	final[0] = hashVersion1
	copy(final[1:1+saltSizeV1], salt)
	copy(final[1+saltSizeV1:], dk)
	return final[:]
}

// Generate returns a new random key, suitable for handing to an operator
func Generate() string {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("Error generating key: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Hash returns the base64 encoded salted hash of key
func Hash(key string) string {
	return base64.RawStdEncoding.EncodeToString(hashWithSalt(createSalt(), key))
}

// Verify returns true if key matches the base64 hash produced by Hash
func Verify(key, hashb64 string) bool {
	hash, err := base64.RawStdEncoding.DecodeString(hashb64)
	if err != nil || len(hash) != hashLenV1 || hash[0] != hashVersion1 {
		return false
	}
	salt := hash[1 : 1+saltSizeV1]
	dk, _ := scrypt.Key([]byte(key), salt, scryptNV1, scryptrV1, scryptpV1, scryptHashSizeV1)
	return subtle.ConstantTimeCompare(dk, hash[1+saltSizeV1:]) == 1
}

// FromAuthorizationHeader extracts the key from "ApiKey <key>".
// Returns an empty string if the header has a different scheme.
func FromAuthorizationHeader(header string) string {
	scheme, key, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "ApiKey") {
		return ""
	}
	return strings.TrimSpace(key)
}
