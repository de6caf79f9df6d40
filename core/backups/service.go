package backups

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"resetwatch/config"
	"resetwatch/core/store"
	"resetwatch/core/utils"
)

var (
	ErrBusy        = errors.New("backup already running")
	ErrUnsupported = errors.New("online backup is only supported for sqlite; use pg_dump for postgres")
)

const (
	filePrefix = "backup_"
	fileSuffix = ".db"
)

var backupNow = func() time.Time { return time.Now().UTC() }

type Artifact struct {
	Filename      string    `json:"filename"`
	Path          string    `json:"path"`
	SizeBytes     int64     `json:"size_bytes"`
	Checksum      string    `json:"checksum,omitempty"`
	SchemaVersion int64     `json:"schema_version,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Service writes consistent copies of the SQLite database with VACUUM INTO
// and prunes old copies down to the configured count.
type Service struct {
	cfg     config.BackupConfig
	db      *sql.DB
	dialect store.Dialect
	logger  *utils.Logger
	mu      sync.Mutex
}

func NewService(cfg config.BackupConfig, db *sql.DB, dialect store.Dialect, logger *utils.Logger) *Service {
	return &Service{cfg: cfg, db: db, dialect: dialect, logger: logger}
}

func (s *Service) CreateBackup(ctx context.Context, label string) (*Artifact, error) {
	if s.dialect != store.DialectSQLite {
		return nil, ErrUnsupported
	}
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()

	dir := strings.TrimSpace(s.cfg.Dir)
	if dir == "" {
		return nil, errors.New("backup dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}
	now := backupNow()
	filename := buildBackupFilename(label, now)
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("backup %s already exists", filename)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		_ = os.Remove(path)
		s.logger.Errorf("backup vacuum failed: %v", err)
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	checksum, size, err := fileSHA256(path)
	if err != nil {
		return nil, err
	}
	version, err := store.SchemaVersion(ctx, s.db, s.dialect)
	if err != nil {
		version = 0
	}
	s.logger.Printf("backup written: %s (%d bytes)", path, size)
	if removed, err := s.prune(dir); err != nil {
		s.logger.Warnf("backup prune: %v", err)
	} else if removed > 0 {
		s.logger.Printf("backup prune removed %d old files", removed)
	}
	return &Artifact{
		Filename:      filename,
		Path:          path,
		SizeBytes:     size,
		Checksum:      checksum,
		SchemaVersion: version,
		CreatedAt:     now,
	}, nil
}

// ListArtifacts returns backups in the configured directory, newest first.
func (s *Service) ListArtifacts() ([]Artifact, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Artifact
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Filename:  name,
			Path:      filepath.Join(s.cfg.Dir, name),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename > out[j].Filename })
	return out, nil
}

func (s *Service) prune(dir string) (int, error) {
	if s.cfg.Keep <= 0 {
		return 0, nil
	}
	items, err := s.ListArtifacts()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range items[min(len(items), s.cfg.Keep):] {
		if err := os.Remove(filepath.Join(dir, item.Filename)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func fileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// The timestamp follows the prefix so names sort by creation time.
func buildBackupFilename(label string, now time.Time) string {
	ts := now.UTC().Format("2006-01-02_15-04-05")
	label = sanitizeFilenameToken(label)
	if label == "" {
		return filePrefix + ts + fileSuffix
	}
	return filePrefix + ts + "_" + label + fileSuffix
}

func sanitizeFilenameToken(in string) string {
	v := strings.TrimSpace(in)
	if v == "" {
		return ""
	}
	v = strings.ToUpper(v)
	replacer := strings.NewReplacer(
		" ", "_",
		"/", "_",
		"\\", "_",
		":", "_",
		";", "_",
		",", "_",
		"\"", "",
		"'", "",
		".", "_",
	)
	v = replacer.Replace(v)
	for strings.Contains(v, "__") {
		v = strings.ReplaceAll(v, "__", "_")
	}
	return strings.Trim(v, "_")
}
