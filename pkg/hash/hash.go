// Copyright 2016 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash computes content ids for corpus and crash entries.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// SigSize is the number of SHA-256 bytes kept in a Sig.
const SigSize = 16

// Sig is a truncated SHA-256 of the hashed content.
type Sig [SigSize]byte

func Hash(pieces ...[]byte) Sig {
	h := sha256.New()
	for _, data := range pieces {
		h.Write(data)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

// String returns the hex content id of the concatenated pieces.
func String(pieces ...[]byte) string {
	sig := Hash(pieces...)
	return sig.String()
}

func (sig *Sig) String() string {
	return hex.EncodeToString((*sig)[:])
}

// Truncate64 returns first 64 bits of the hash as int64.
func (sig *Sig) Truncate64() int64 {
	var v int64
	if err := binary.Read(bytes.NewReader((*sig)[:]), binary.LittleEndian, &v); err != nil {
		panic(fmt.Sprintf("failed convert hash to id: %v", err))
	}
	return v
}

func FromString(str string) (Sig, error) {
	bin, err := hex.DecodeString(str)
	if err != nil {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': %w", str, err)
	}
	if len(bin) != SigSize {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': bad len", str)
	}
	var sig Sig
	copy(sig[:], bin)
	return sig, nil
}

// Valid says whether str looks like a content id produced by String.
func Valid(str string) bool {
	_, err := FromString(str)
	return err == nil
}
