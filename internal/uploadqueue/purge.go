package uploadqueue

import (
	"context"
	"fmt"

	"github.com/agentworkforce/themesync/internal/assetkey"
)

// Purge lists every asset on the target theme and enqueues a delete for
// each one that is not protected. onComplete, when set, runs once per
// delete with its terminal outcome. It returns the number of deletes
// enqueued.
func (q *Queue) Purge(ctx context.Context, onComplete func(key string, err error)) (int, error) {
	themeID := q.ThemeID()
	if themeID == "" {
		return 0, ErrMissingThemeID
	}
	q.callMu.Lock()
	assets, err := q.client.List(ctx, themeID)
	q.callMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}

	enqueued := 0
	for _, asset := range assets {
		if assetkey.IsProtected(asset.Key) {
			q.logf("debug", "purge: keeping protected %s", asset.Key)
			continue
		}
		key, err := assetkey.Resolve(asset.Key, "")
		if err != nil {
			q.logf("warn", "purge: skipping %s: %v", asset.Key, err)
			continue
		}
		intent := Intent{Key: key, Action: ActionDelete}
		if onComplete != nil {
			intent.OnComplete = func(err error) { onComplete(key, err) }
		}
		if _, err := q.Enqueue(intent); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	q.logf("info", "purge: %d deletes queued, %d assets listed", enqueued, len(assets))
	return enqueued, nil
}
