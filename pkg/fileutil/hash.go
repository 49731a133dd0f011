// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fileutil

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// DefaultChunkSize is the read size used when hashing files.
const DefaultChunkSize = 65535

// Digest is a hex digest tagged with the algorithm that produced it.
type Digest struct {
	Algorithm Algorithm `json:"algorithm"`
	Hex       string    `json:"hex"`
}

// String returns the bare hex digest.
func (d Digest) String() string {
	return d.Hex
}

// OCI returns the digest in "algorithm:hex" form.
func (d Digest) OCI() digest.Digest {
	return digest.NewDigestFromEncoded(digest.Algorithm(d.Algorithm), d.Hex)
}

func newHash(algo Algorithm) (hash.Hash, Algorithm, error) {
	switch algo {
	case "", SHA256:
		return sha256.New(), SHA256, nil
	case MD5:
		return md5.New(), MD5, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(algo))
	}
}

// HashFile computes the digest of the file at path, reading chunkSize bytes
// at a time. An empty algo means SHA256; chunkSize <= 0 means DefaultChunkSize.
// The result does not depend on chunkSize.
func HashFile(path string, algo Algorithm, chunkSize int) (Digest, error) {
	h, algo, err := newHash(algo)
	if err != nil {
		return Digest{}, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fsError("open", path, err)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return Digest{}, fsError("read", path, rerr)
		}
	}

	return Digest{Algorithm: algo, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

// InferAlgorithm guesses the algorithm of an expected hash by its length:
// 64 characters is sha256, anything else md5. A 64-character string that is
// not really a sha256 digest is still treated as one.
func InferAlgorithm(expected string) Algorithm {
	if len(expected) == 64 {
		return SHA256
	}
	return MD5
}

// ValidateFile reports whether the file at path hashes to expected. An empty
// or Auto algo is inferred from expected. A mismatch is not an error; only a
// failure to read the file is.
func ValidateFile(path, expected string, algo Algorithm, chunkSize int) (bool, error) {
	if algo == "" || algo == Auto {
		algo = InferAlgorithm(expected)
	}
	d, err := HashFile(path, algo, chunkSize)
	if err != nil {
		return false, err
	}
	return d.Hex == expected, nil
}
