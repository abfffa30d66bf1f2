package ledger

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic replaces path with the encoded document. The content is
// synced before the rename and the directory after it, so a crash leaves
// either the old or the new document in place.
func writeFileAtomic(path string, doc *Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temporary ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temporary ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temporary ledger file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming ledger file into place: %w", err)
	}

	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening ledger directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing ledger directory: %w", err)
	}
	return nil
}
