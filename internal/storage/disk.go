package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Footprint is the on-disk size of one ledger/index pair.
type Footprint struct {
	LedgerBytes int64 `json:"ledger_bytes"`
	IndexBytes  int64 `json:"index_bytes"`
	TotalBytes  int64 `json:"total_bytes"`
}

// MeasureFootprint sums the database (including WAL and shared-memory side files) and the index file.
func MeasureFootprint(dbPath, indexPath string) (Footprint, error) {
	var fp Footprint
	var err error
	if dbPath != "" {
		fp.LedgerBytes, err = DiskUsageBytes(dbPath, dbPath+"-wal", dbPath+"-shm")
		if err != nil {
			return fp, err
		}
	}
	fp.IndexBytes, err = DiskUsageBytes(indexPath)
	if err != nil {
		return fp, err
	}
	fp.TotalBytes = fp.LedgerBytes + fp.IndexBytes
	return fp, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Directories are summed recursively. Empty and missing paths count as zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
