package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"cachegen/internal/fileutil"
)

// snapshot is the rollback record for one operation. A nil entry in meta
// means the key did not exist before the operation started.
type snapshot struct {
	resourceID string
	path       string
	backupPath string
	existed    bool
	meta       map[string]*string
}

func (e *Executor) takeSnapshot(ctx context.Context, resourceID string) (*snapshot, error) {
	snap := &snapshot{
		resourceID: resourceID,
		path:       PathFor(e.dir, resourceID),
		meta:       make(map[string]*string, len(TrackedKeys)),
	}
	for _, key := range TrackedKeys {
		value, ok, err := e.meta.GetMeta(ctx, resourceID, key)
		if err != nil {
			return nil, err
		}
		if ok {
			v := value
			snap.meta[key] = &v
		} else {
			snap.meta[key] = nil
		}
	}

	exists, err := fileutil.Exists(snap.path)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if !exists {
		return snap, nil
	}
	snap.existed = true
	snap.backupPath = snap.path + ".bak-" + uuid.NewString()
	if err := fileutil.CopyFileVerified(snap.path, snap.backupPath); err != nil {
		_ = os.Remove(snap.backupPath)
		return nil, fmt.Errorf("back up artifact: %w", err)
	}
	return snap, nil
}

// restore puts the artifact file and every tracked metadata key back to
// their snapshotted values. The backup is consumed.
func (e *Executor) restore(ctx context.Context, snap *snapshot) error {
	var errs []error
	if snap.existed {
		if err := os.Rename(snap.backupPath, snap.path); err != nil {
			errs = append(errs, fmt.Errorf("restore artifact from backup: %w", err))
		}
	} else if err := os.Remove(snap.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove new artifact: %w", err))
	}
	for _, key := range TrackedKeys {
		prior := snap.meta[key]
		var err error
		if prior == nil {
			err = e.meta.DeleteMeta(ctx, snap.resourceID, key)
		} else {
			err = e.meta.SetMeta(ctx, snap.resourceID, key, *prior)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore metadata %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// discard drops the backup after a successful operation.
func (snap *snapshot) discard() error {
	if snap == nil || snap.backupPath == "" {
		return nil
	}
	if err := os.Remove(snap.backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
