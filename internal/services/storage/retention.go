package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// StoredClip is a clip file found in the clip directory.
type StoredClip struct {
	Path     string
	CameraID string
	At       time.Time
	Size     int64
}

// ListClips returns the clip files in dir, oldest first. Files that do not
// follow the clip naming scheme are ignored.
func ListClips(dir string) ([]StoredClip, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip directory: %w", err)
	}

	var clips []StoredClip
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		camera, at, err := ParseClipFileName(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		clips = append(clips, StoredClip{
			Path:     filepath.Join(dir, e.Name()),
			CameraID: camera,
			At:       at,
			Size:     info.Size(),
		})
	}

	sort.SliceStable(clips, func(i, j int) bool {
		if clips[i].At.Equal(clips[j].At) {
			return clips[i].Path < clips[j].Path
		}
		return clips[i].At.Before(clips[j].At)
	})
	return clips, nil
}

// PlanPrune picks the oldest clips to delete so the rest fit in maxBytes.
func PlanPrune(clips []StoredClip, maxBytes int64) []StoredClip {
	var total int64
	for _, c := range clips {
		total += c.Size
	}

	var remove []StoredClip
	for _, c := range clips {
		if total <= maxBytes {
			break
		}
		remove = append(remove, c)
		total -= c.Size
	}
	return remove
}

// RemoveClips deletes the given clips and calls onRemoved for each file
// actually removed. Missing files count as removed.
func RemoveClips(clips []StoredClip, onRemoved func(StoredClip) error) (int, error) {
	var (
		removed int
		errs    []error
	)
	for _, c := range clips {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		if onRemoved != nil {
			if err := onRemoved(c); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return removed, errors.Join(errs...)
}
