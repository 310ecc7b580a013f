// Copyright 2020 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"
)

func ParseFlags(set *pflag.FlagSet, args []string) error {
	return set.Parse(args)
}

// ListFlag allows passing a comma-separated list of values to the same flag.
type ListFlag []string

func (list *ListFlag) String() string {
	return strings.Join(*list, ",")
}

func (list *ListFlag) Set(value string) error {
	if len(*list) > 0 {
		return errors.New("list flag was already set")
	}
	for _, elem := range strings.Split(value, ",") {
		if elem = strings.TrimSpace(elem); elem != "" {
			*list = append(*list, elem)
		}
	}
	return nil
}

func (list *ListFlag) Type() string {
	return "list"
}
