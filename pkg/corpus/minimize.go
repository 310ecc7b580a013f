// Copyright 2024 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
)

// Minimize drops inputs whose coverage is subsumed by smaller inputs.
// Inputs are replayed into a fresh tracker in the order of increasing size,
// inputs that add nothing are removed from memory and disk.
// Inputs without known coverage are kept. The global tracker is not affected.
func (corpus *Corpus) Minimize() (int, error) {
	corpus.mu.Lock()
	defer corpus.mu.Unlock()

	items := make([]*Item, 0, len(corpus.items))
	for _, item := range corpus.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if len(items[i].Data) != len(items[j].Data) {
			return len(items[i].Data) < len(items[j].Data)
		}
		return items[i].ID < items[j].ID
	})
	fresh := cover.NewSet()
	var keep, drop []*Item
	for _, item := range items {
		if item.Signal.Empty() || fresh.Update(item.Signal) {
			keep = append(keep, item)
		} else {
			drop = append(drop, item)
		}
	}
	removed := 0
	for _, item := range drop {
		file := filepath.Join(corpus.cfg.Dir, item.ID)
		if err := osutil.RemoveFiles(file, file+coverSuffix); err != nil {
			corpus.rebuildLocked(keep, drop[removed:])
			return removed, fmt.Errorf("failed to remove corpus input: %w", err)
		}
		delete(corpus.items, item.ID)
		removed++
	}
	corpus.rebuildLocked(keep, nil)
	log.Logf(0, "minimized corpus: %v -> %v inputs", len(items), len(keep))
	return removed, nil
}

func (corpus *Corpus) rebuildLocked(keep, failed []*Item) {
	corpus.list = append(append([]*Item(nil), keep...), failed...)
}
