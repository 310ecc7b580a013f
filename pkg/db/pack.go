// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytefuzz/bytefuzz/pkg/osutil"
)

// PackDir stores all regular files of dir in a new database file keyed by file name.
func PackDir(dir, filename string) (int, error) {
	names, err := osutil.ListDir(dir)
	if err != nil {
		return 0, err
	}
	records := make(map[string][]byte)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return 0, err
		}
		records[name] = data
	}
	if err := Create(filename, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// UnpackDir writes all records of the database file into dir.
// Existing files with the same names are overwritten.
func UnpackDir(filename, dir string) (int, error) {
	if !osutil.IsExist(filename) {
		return 0, fmt.Errorf("database file %v does not exist", filename)
	}
	records, err := Open(filename)
	if err != nil {
		return 0, err
	}
	if err := osutil.MkdirAll(dir); err != nil {
		return 0, err
	}
	for key, val := range records {
		if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
			return 0, fmt.Errorf("bad record name %q", key)
		}
		if err := osutil.WriteFile(filepath.Join(dir, key), val); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}
