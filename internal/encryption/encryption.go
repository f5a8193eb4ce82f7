// Package encryption manages the password-derived database encryption
// lifecycle: the metadata sidecar, Argon2id key derivation, and the
// enable / disable / unlock operations.
package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"

	"github.com/treeline-money/treeline/internal/backup"
	"github.com/treeline-money/treeline/internal/storage"
	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
)

const (
	algorithmID     = "argon2id"
	metadataVersion = 1
	saltLen         = 16
)

// Argon2Params are the KDF cost parameters recorded in encryption.json.
type Argon2Params struct {
	TimeCost    uint32 `json:"time_cost"`
	MemoryCost  uint32 `json:"memory_cost"`
	Parallelism uint8  `json:"parallelism"`
	HashLen     uint32 `json:"hash_len"`
}

// DefaultParams are the shipping Argon2id costs.
var DefaultParams = Argon2Params{
	TimeCost:    3,
	MemoryCost:  65536, // KiB
	Parallelism: 4,
	HashLen:     32,
}

// Metadata is the encryption.json document beside the database file.
type Metadata struct {
	Encrypted    bool         `json:"encrypted"`
	Salt         string       `json:"salt"` // base64
	Algorithm    string       `json:"algorithm"`
	Version      int          `json:"version"`
	Argon2Params Argon2Params `json:"argon2_params"`
}

// ReadMetadata loads encryption.json. A missing file means "not
// encrypted" and returns nil without error.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.KindIO, err, "reading encryption metadata")
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, types.WrapErr(types.KindParse, err, "parsing encryption.json")
	}
	return &m, nil
}

// WriteMetadata writes encryption.json atomically.
func WriteMetadata(path string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return types.WrapErr(types.KindIO, err, "encoding encryption metadata")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return types.WrapErr(types.KindIO, err, "writing encryption metadata")
	}
	if err := os.Rename(tmp, path); err != nil {
		return types.WrapErr(types.KindIO, err, "replacing encryption metadata")
	}
	return nil
}

// DeriveKey derives the database key from a password with Argon2id.
func DeriveKey(password string, salt []byte, p Argon2Params) []byte {
	return argon2.IDKey([]byte(password), salt, p.TimeCost, p.MemoryCost, p.Parallelism, p.HashLen)
}

// DeriveKeyHex is DeriveKey with a hex-encoded result, the form the
// connection factory consumes.
func DeriveKeyHex(password string, salt []byte, p Argon2Params) string {
	return hex.EncodeToString(DeriveKey(password, salt, p))
}

// Service runs the encryption lifecycle for one database file.
type Service struct {
	DBPath   string
	MetaPath string
	Backups  *backup.Service
	Shared   *duckdb.Shared
}

// NewService creates an encryption service.
func NewService(dbPath, metaPath string, backups *backup.Service, shared *duckdb.Shared) *Service {
	return &Service{DBPath: dbPath, MetaPath: metaPath, Backups: backups, Shared: shared}
}

// Status reports whether the database is encrypted and whether it is
// currently locked (encrypted with no key held).
func (s *Service) Status() (encrypted, locked bool, err error) {
	m, err := ReadMetadata(s.MetaPath)
	if err != nil {
		return false, false, err
	}
	if m == nil || !m.Encrypted {
		return false, false, nil
	}
	return true, duckdb.SessionKey() == "", nil
}

// Enable encrypts the database with a key derived from password.
// A backup is taken first; on any failure before the atomic replace the
// partial encrypted file is deleted and the backup retained.
func (s *Service) Enable(password string) error {
	m, err := ReadMetadata(s.MetaPath)
	if err != nil {
		return err
	}
	if m != nil && m.Encrypted {
		return types.E(types.KindConfig, "database is already encrypted")
	}

	if _, err := s.Backups.Create(); err != nil {
		return err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return types.WrapErr(types.KindIO, err, "generating salt")
	}
	hexKey := DeriveKeyHex(password, salt, DefaultParams)

	tmp := s.DBPath + ".enc"
	err = s.rewrite(s.DBPath, "", tmp, hexKey)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	meta := &Metadata{
		Encrypted:    true,
		Salt:         base64.StdEncoding.EncodeToString(salt),
		Algorithm:    algorithmID,
		Version:      metadataVersion,
		Argon2Params: DefaultParams,
	}
	if err := WriteMetadata(s.MetaPath, meta); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	s.Shared.Invalidate()
	duckdb.SetSessionKey(hexKey)
	return nil
}

// Disable decrypts the database back to a plain file. The password must
// validate against the current metadata.
func (s *Service) Disable(password string) error {
	hexKey, err := s.Unlock(password)
	if err != nil {
		return err
	}
	// The backup has to checkpoint through the encrypted file.
	s.Backups.HexKey = hexKey
	if _, err := s.Backups.Create(); err != nil {
		return err
	}

	tmp := s.DBPath + ".plain"
	if err := s.rewrite(s.DBPath, hexKey, tmp, ""); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	meta := &Metadata{Encrypted: false, Algorithm: algorithmID, Version: metadataVersion}
	if err := WriteMetadata(s.MetaPath, meta); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	s.Shared.Invalidate()
	duckdb.ClearSessionKey()
	return nil
}

// Unlock derives the key from password, validates it by opening the
// database read-only and reading a known row, and holds the key for the
// session. A wrong password surfaces as AuthError.
func (s *Service) Unlock(password string) (string, error) {
	m, err := ReadMetadata(s.MetaPath)
	if err != nil {
		return "", err
	}
	if m == nil || !m.Encrypted {
		return "", types.E(types.KindConfig, "database is not encrypted")
	}
	salt, err := base64.StdEncoding.DecodeString(m.Salt)
	if err != nil {
		return "", types.WrapErr(types.KindParse, err, "decoding salt")
	}
	hexKey := DeriveKeyHex(password, salt, m.Argon2Params)

	lock := storage.NewLock(s.DBPath)
	err = lock.WithLock(func() error {
		db, err := duckdb.Open(s.DBPath, hexKey, true)
		if err != nil {
			return types.WrapErr(types.KindAuth, err, "wrong password")
		}
		defer db.Close()
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM sys_migrations`).Scan(&n); err != nil {
			return types.WrapErr(types.KindAuth, err, "wrong password")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	duckdb.SetSessionKey(hexKey)
	return hexKey, nil
}

// rewrite copies every row from the database at src (opened with srcKey)
// into a fresh database at tmp (created with dstKey), then atomically
// replaces src. Runs entirely under the database lock.
func (s *Service) rewrite(src, srcKey, tmp, dstKey string) error {
	lock := storage.NewLock(src)
	return lock.WithLock(func() error {
		db, err := duckdb.Open(src, srcKey, false)
		if err != nil {
			return err
		}
		defer db.Close()

		var current string
		if err := db.QueryRow(`SELECT current_database()`).Scan(&current); err != nil {
			return types.WrapErr(types.KindDB, err, "reading current database name")
		}

		attach := fmt.Sprintf("ATTACH %s AS rewrite_target", sqlQuote(tmp))
		if dstKey != "" {
			attach = fmt.Sprintf("ATTACH %s AS rewrite_target (ENCRYPTION_KEY %s)",
				sqlQuote(tmp), sqlQuote(dstKey))
		}
		if _, err := db.Exec(attach); err != nil {
			return types.WrapErr(types.KindDB, err, "creating target database")
		}
		copyStmt := fmt.Sprintf("COPY FROM DATABASE %s TO rewrite_target", quoteIdent(current))
		if _, err := db.Exec(copyStmt); err != nil {
			return types.WrapErr(types.KindDB, err, "copying rows")
		}
		if _, err := db.Exec("DETACH rewrite_target"); err != nil {
			return types.WrapErr(types.KindDB, err, "detaching target database")
		}
		if err := db.Close(); err != nil {
			return types.WrapErr(types.KindDB, err, "closing source database")
		}
		if err := os.Rename(tmp, src); err != nil {
			return types.WrapErr(types.KindIO, err, "replacing database file")
		}
		return nil
	})
}

func sqlQuote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

func quoteIdent(s string) string {
	out := []byte{'"'}
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, s[i])
	}
	return string(append(out, '"'))
}

// ResolveSessionKey returns the key to open the database with: the held
// session key, a pre-derived key from the environment, or a key derived
// from an environment password. Empty means the database is plain; an
// encrypted database with no key available yields an AuthError.
func ResolveSessionKey(metaPath, envKey, envPassword string) (string, error) {
	m, err := ReadMetadata(metaPath)
	if err != nil {
		return "", err
	}
	if m == nil || !m.Encrypted {
		return "", nil
	}
	if k := duckdb.SessionKey(); k != "" {
		return k, nil
	}
	if envKey != "" {
		duckdb.SetSessionKey(envKey)
		return envKey, nil
	}
	if envPassword != "" {
		salt, err := base64.StdEncoding.DecodeString(m.Salt)
		if err != nil {
			return "", types.WrapErr(types.KindParse, err, "decoding salt")
		}
		k := DeriveKeyHex(envPassword, salt, m.Argon2Params)
		duckdb.SetSessionKey(k)
		return k, nil
	}
	return "", types.E(types.KindAuth, "database is locked; run 'tl encryption unlock' or set %s", "TL_DB_KEY")
}
