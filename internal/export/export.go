// Package export writes the archived posts out as a single JSON file,
// keyed by post id, for downstream tooling.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"tumblrvault/internal/store"
)

// Posts exports every cached post's full record to path. Ids present in
// the cache but missing from the document store are skipped. It returns
// the number of posts exported.
func Posts(ctx context.Context, docs store.DocStore, cache *store.Cache, path string) (int, error) {
	ids := cache.IDs()
	sort.Strings(ids)

	exported := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		rec, err := docs.FindOne(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("export %s: %w", id, err)
		}
		exported[id] = json.RawMessage(rec.PayloadJSON)
	}

	data, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("swap export: %w", err)
	}

	return len(exported), nil
}
