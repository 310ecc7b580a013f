// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package db implements the packed file format used to move corpus and crash
// directories between machines.
//
// A pack is a fixed header followed by a single flate stream of
// (key length, key, value length, value) records with uvarint lengths.
// Packs are written once and never modified in place.
package db

import (
	"bufio"
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
)

const (
	packMagic   = uint32(0xbf0bdb)
	packVersion = uint32(2)
	maxKeyLen   = 4 << 10
)

// Create writes records into a new pack file, replacing any existing file.
// Records are stored in key order so that equal inputs produce equal files.
func Create(filename string, records map[string][]byte) error {
	keys := make([]string, 0, len(records))
	for key := range records {
		if len(key) > maxKeyLen {
			return fmt.Errorf("record key is too long: %v bytes", len(key))
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, packMagic)
	binary.Write(buf, binary.LittleEndian, packVersion)
	fw, err := flate.NewWriter(buf, flate.BestCompression)
	if err != nil {
		return err
	}
	var lenBuf [binary.MaxVarintLen64]byte
	for _, key := range keys {
		val := records[key]
		fw.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(key)))])
		io.WriteString(fw, key)
		fw.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(val)))])
		fw.Write(val)
	}
	if err := fw.Close(); err != nil {
		return err
	}
	if err := osutil.WriteFile(filename, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write pack file: %w", err)
	}
	return nil
}

// Open reads all records of a pack file.
// If the file is corrupted or truncated, it returns the records decoded before
// the damage together with a non-nil error.
func Open(filename string) (map[string][]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records := make(map[string][]byte)
	r := bufio.NewReader(f)
	if err := readHeader(r); err != nil {
		return records, fmt.Errorf("failed to read pack header: %w", err)
	}
	br := bufio.NewReader(flate.NewReader(r))
	for {
		key, val, err := readRecord(br)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			err = fmt.Errorf("failed to read pack record %v: %w", len(records), err)
			log.Logf(0, "%v", err)
			return records, err
		}
		records[key] = val
	}
}

func readHeader(r io.Reader) error {
	var magic, ver uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return err
	}
	if magic != packMagic {
		return fmt.Errorf("bad magic 0x%x", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return err
	}
	if ver != packVersion {
		return fmt.Errorf("unsupported pack version %v", ver)
	}
	return nil
}

func readRecord(r *bufio.Reader) (key string, val []byte, err error) {
	keyLen, err := binary.ReadUvarint(r)
	if err != nil {
		// Clean end of stream only between records.
		return
	}
	defer func() {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
	}()
	if keyLen > maxKeyLen {
		err = fmt.Errorf("bad key length %v", keyLen)
		return
	}
	keyBuf := make([]byte, keyLen)
	if _, err = io.ReadFull(r, keyBuf); err != nil {
		return
	}
	key = string(keyBuf)
	valLen, err := binary.ReadUvarint(r)
	if err != nil {
		return
	}
	// Lengths come from the file, so grow the buffer by what is actually there.
	valBuf := new(bytes.Buffer)
	if _, err = io.CopyN(valBuf, r, int64(valLen)); err != nil {
		return
	}
	if valLen != 0 {
		val = valBuf.Bytes()
	}
	return
}
