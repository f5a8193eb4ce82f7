// Package backup snapshots the database file with rotation, and restores
// named backups.
package backup

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/treeline-money/treeline/internal/storage"
	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
)

// Info describes one backup file.
type Info struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service copies the database file under its lock.
type Service struct {
	DBPath string
	Dir    string
	HexKey string // needed to checkpoint an encrypted database
}

// NewService creates a backup service for dbPath writing into dir.
func NewService(dbPath, dir, hexKey string) *Service {
	return &Service{DBPath: dbPath, Dir: dir, HexKey: hexKey}
}

// Create checkpoints the database and copies it to
// <dir>/<db>-<utc-timestamp>.duckdb. Returns the backup path.
func (s *Service) Create() (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", types.WrapErr(types.KindIO, err, "creating backups directory")
	}
	base := filepath.Base(s.DBPath)
	stem := strings.TrimSuffix(base, ".duckdb")
	name := stem + "-" + time.Now().UTC().Format("20060102T150405Z") + ".duckdb"
	dest := filepath.Join(s.Dir, name)

	lock := storage.NewLock(s.DBPath)
	err := lock.WithLock(func() error {
		db, err := duckdb.Open(s.DBPath, s.HexKey, false)
		if err != nil {
			return err
		}
		if _, err := db.Exec("CHECKPOINT"); err != nil {
			_ = db.Close()
			return types.WrapErr(types.KindDB, err, "checkpointing before backup")
		}
		if err := db.Close(); err != nil {
			return types.WrapErr(types.KindDB, err, "closing before backup")
		}
		return copyFile(s.DBPath, dest)
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// Rotate deletes oldest backups until at most cap remain. cap <= 0 is a
// no-op.
func (s *Service) Rotate(cap int) error {
	if cap <= 0 {
		return nil
	}
	backups, err := s.List()
	if err != nil {
		return err
	}
	for len(backups) > cap {
		oldest := backups[0]
		if err := s.Delete(oldest.Name); err != nil {
			return err
		}
		backups = backups[1:]
	}
	return nil
}

// List returns backups sorted oldest first.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.KindIO, err, "reading backups directory")
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".duckdb") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Name: e.Name(), Size: info.Size(), CreatedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Restore copies the named backup over the current database file. Any
// cached repository context must be invalidated first; pass the shared
// handle so it is invalidated before the lock is taken and the file copied.
func (s *Service) Restore(name string, shared *duckdb.Shared) error {
	src := filepath.Join(s.Dir, filepath.Base(name))
	if _, err := os.Stat(src); err != nil {
		return types.E(types.KindNotFound, "backup '%s' not found", name)
	}
	if shared != nil {
		shared.Invalidate()
	}
	lock := storage.NewLock(s.DBPath)
	return lock.WithLock(func() error {
		return copyFile(src, s.DBPath)
	})
}

// Delete removes one backup file.
func (s *Service) Delete(name string) error {
	path := filepath.Join(s.Dir, filepath.Base(name))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return types.E(types.KindNotFound, "backup '%s' not found", name)
		}
		return types.WrapErr(types.KindIO, err, "deleting backup")
	}
	return nil
}

// Clear removes every backup file.
func (s *Service) Clear() error {
	backups, err := s.List()
	if err != nil {
		return err
	}
	for _, b := range backups {
		if err := s.Delete(b.Name); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return types.WrapErr(types.KindIO, err, "opening %s", src)
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return types.WrapErr(types.KindIO, err, "creating %s", tmp)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return types.WrapErr(types.KindIO, err, "copying %s", src)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return types.WrapErr(types.KindIO, err, "finishing %s", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return types.WrapErr(types.KindIO, err, "replacing %s", dst)
	}
	return nil
}
