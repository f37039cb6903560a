// uuidgen.go - UUID generation utilities for l6sk.
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

// Package uuidgen produces URL-safe base64 identifiers using one of three
// entropy-mixing strategies, reusing the SHA3-512 corner of golang.org/x/crypto
// that the teacher's identity-key machinery also draws on.
package uuidgen

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// Version selects the entropy-mixing strategy Next uses.
type Version int

const (
	// V1 returns raw CSPRNG bytes.
	V1 Version = iota + 1
	// V2 hashes the wallclock second and 256 CSPRNG bytes with SHA3-512.
	V2
	// V3 mixes a per-instance monotonic counter into the SHA3-512 input
	// alongside repeated CSPRNG draws and the wallclock.
	V3
)

const (
	minNumBytes = 12
	maxNumBytes = 63 // num_bytes must be < 64
)

// Generator produces identifiers of a fixed length using a fixed strategy.
type Generator struct {
	version  Version
	numBytes int

	mu      sync.Mutex
	counter uint64
}

// New validates version and numBytes and returns a Generator.
func New(version Version, numBytes int) (*Generator, error) {
	if numBytes < minNumBytes || numBytes > maxNumBytes {
		return nil, fmt.Errorf("uuidgen: num_bytes must be in [%d, %d], got %d", minNumBytes, maxNumBytes, numBytes)
	}
	switch version {
	case V1, V2, V3:
	default:
		return nil, fmt.Errorf("uuidgen: unknown version %d", version)
	}
	return &Generator{version: version, numBytes: numBytes}, nil
}

// Next returns a URL-safe base64 identifier of g's configured length.
func (g *Generator) Next() (string, error) {
	switch g.version {
	case V1:
		return g.nextV1()
	case V2:
		return g.nextV2()
	case V3:
		return g.nextV3()
	default:
		return "", fmt.Errorf("uuidgen: unknown version %d", g.version)
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("uuidgen: read csprng: %w", err)
	}
	return b, nil
}

func (g *Generator) nextV1() (string, error) {
	b, err := randomBytes(g.numBytes)
	if err != nil {
		return "", err
	}
	return encode(b), nil
}

func (g *Generator) nextV2() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(strconv.FormatInt(time.Now().Unix(), 10))

	entropy, err := randomBytes(256)
	if err != nil {
		return "", err
	}
	buf.Write(entropy)

	sum := sha3.Sum512(buf.Bytes())
	return encode(sum[:g.numBytes]), nil
}

func (g *Generator) nextV3() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var buf bytes.Buffer

	first, err := randomBytes(32)
	if err != nil {
		return "", err
	}
	buf.Write(first)

	buf.WriteString(strconv.FormatInt(time.Now().Unix(), 10))

	for i := 0; i < 16; i++ {
		draw, err := randomBytes(16)
		if err != nil {
			return "", err
		}
		buf.Write(draw)
		g.counter++
	}

	buf.WriteString(strconv.FormatUint(g.counter, 10))

	sum := sha3.Sum512(buf.Bytes())
	return encode(sum[:g.numBytes]), nil
}

// encode renders b as URL-safe base64 with no padding.
func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
