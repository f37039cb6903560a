// kdf.go - auth KDF (password shadow) utilities for l6sk.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package kdf derives password shadows for l6sk's authenticate_user path,
// grounded on the same corner of golang.org/x/crypto that the teacher's
// crypto/{ecdh,eddsa} wrappers draw from, retargeted from key agreement
// onto password hashing.
package kdf

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Method selects which construction Shadow uses.
type Method int

const (
	// MethodPBKDF2 derives the shadow with PBKDF2-HMAC-SHA512 alone.
	MethodPBKDF2 Method = iota
	// MethodScrypt derives the shadow with scrypt alone (p fixed at 1).
	MethodScrypt
	// MethodScryptThenPBKDF2 runs scrypt to produce an intermediate key,
	// then PBKDF2-HMAC-SHA512 over that key using the same salt/dklen.
	MethodScryptThenPBKDF2
)

// ParseMethod maps a config knob value to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "pbkdf2":
		return MethodPBKDF2, nil
	case "scrypt":
		return MethodScrypt, nil
	case "scrypt_then_pbkdf2":
		return MethodScryptThenPBKDF2, nil
	default:
		return 0, fmt.Errorf("kdf: unknown method %q", s)
	}
}

// Params holds the immutable construction parameters for an AuthKDF.
// scrypt's parallelism factor is intentionally not configurable: it is
// fixed at 1, and the PBKDF2 PRF is fixed at SHA-512.
type Params struct {
	Salt        []byte
	ScryptN     int
	ScryptR     int
	PBKDF2Iters int
	DKLen       int
	Method      Method
}

// AuthKDF derives fixed-length password shadows per Params.
type AuthKDF struct {
	p Params
}

// New validates p and returns an AuthKDF, or an error describing the first
// nonsensical parameter found.
func New(p Params) (*AuthKDF, error) {
	if len(p.Salt) < 4 {
		return nil, fmt.Errorf("kdf: salt must be at least 4 bytes, got %d", len(p.Salt))
	}
	if p.DKLen < 8 {
		return nil, fmt.Errorf("kdf: dklen must be at least 8, got %d", p.DKLen)
	}
	switch p.Method {
	case MethodPBKDF2:
		if p.PBKDF2Iters < 1000 {
			return nil, fmt.Errorf("kdf: pbkdf2_iters must be at least 1000, got %d", p.PBKDF2Iters)
		}
	case MethodScrypt:
		if err := validateScrypt(p); err != nil {
			return nil, err
		}
	case MethodScryptThenPBKDF2:
		if err := validateScrypt(p); err != nil {
			return nil, err
		}
		if p.PBKDF2Iters < 1000 {
			return nil, fmt.Errorf("kdf: pbkdf2_iters must be at least 1000, got %d", p.PBKDF2Iters)
		}
	default:
		return nil, fmt.Errorf("kdf: unknown method %d", p.Method)
	}
	return &AuthKDF{p: p}, nil
}

func validateScrypt(p Params) error {
	if p.ScryptN < 512 {
		return fmt.Errorf("kdf: scrypt_N must be at least 512, got %d", p.ScryptN)
	}
	if p.ScryptN&(p.ScryptN-1) != 0 {
		return fmt.Errorf("kdf: scrypt_N must be a power of two, got %d", p.ScryptN)
	}
	if p.ScryptR <= 0 || p.ScryptR%2 != 0 {
		return fmt.Errorf("kdf: scrypt_r must be even and positive, got %d", p.ScryptR)
	}
	return nil
}

// Shadow derives the password shadow and returns it as URL-safe base64
// with no padding (guaranteed by base64.RawURLEncoding regardless of
// dklen; New does not require dklen to be a multiple of 3).
func (k *AuthKDF) Shadow(password string) (string, error) {
	pw := []byte(password)

	var key []byte
	var err error

	switch k.p.Method {
	case MethodPBKDF2:
		key = pbkdf2.Key(pw, k.p.Salt, k.p.PBKDF2Iters, k.p.DKLen, sha512.New)
	case MethodScrypt:
		key, err = scrypt.Key(pw, k.p.Salt, k.p.ScryptN, k.p.ScryptR, 1, k.p.DKLen)
	case MethodScryptThenPBKDF2:
		var intermediate []byte
		intermediate, err = scrypt.Key(pw, k.p.Salt, k.p.ScryptN, k.p.ScryptR, 1, k.p.DKLen)
		if err == nil {
			key = pbkdf2.Key(intermediate, k.p.Salt, k.p.PBKDF2Iters, k.p.DKLen, sha512.New)
		}
	default:
		return "", fmt.Errorf("kdf: unknown method %d", k.p.Method)
	}
	if err != nil {
		return "", fmt.Errorf("kdf: derive: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(key), nil
}
