package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DiscoverArchives returns paths to .npz archives beneath root.
func DiscoverArchives(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".npz") {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discover archives")
	}
	sort.Strings(entries)
	return entries, nil
}

// ResolveArchive maps a configured data path to a single archive file. A
// directory must contain exactly one archive.
func ResolveArchive(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, "resolve archive")
	}
	if !info.IsDir() {
		return path, nil
	}
	found, err := DiscoverArchives(path)
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", errors.Errorf("resolve archive: no .npz archive under %s", path)
	case 1:
		return found[0], nil
	default:
		return "", errors.Errorf("resolve archive: %d archives under %s, name one explicitly", len(found), path)
	}
}
