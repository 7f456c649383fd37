// Package toml persists heal-and-restore handshake records in a TOML
// file shared between the engine process and the operator CLI. Writes
// are atomic (temp file plus rename) so a poller never observes a
// half-written file.
package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/mfields/cadence/internal/domain"
	"github.com/mfields/cadence/internal/ports"
)

const (
	configName      = "config"
	configType      = "toml"
	healPathKey     = "heal.path"
	healFileMode    = 0o600
	healDirMode     = 0o700
	healConfigDir   = ".cadence"
	healConfigFile  = "heal_sessions.toml"
	tempFilePattern = ".heal-*.toml.tmp"
)

type Repository struct {
	healPath string
	mu       *sync.RWMutex
}

// Two constructors in one process must share a lock per file path;
// the registry hands out the same mutex for the same resolved path.
var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.HealSessionRepository = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	defaultPath := filepath.Join(homeDir, healConfigDir, healConfigFile)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(filepath.Join(homeDir, healConfigDir))
	cfg.SetDefault(healPathKey, defaultPath)

	err = cfg.ReadInConfig()
	if err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	healPath := cfg.GetString(healPathKey)
	if healPath == "" {
		return nil, errors.New("heal sessions path is empty")
	}
	healPath, err = normalizeHealPath(healPath)
	if err != nil {
		return nil, err
	}

	return &Repository{healPath: healPath, mu: lockForPath(healPath)}, nil
}

func (r *Repository) Save(ctx context.Context, session domain.HealSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toSchema(session)
	updated := false
	for i := range file.Sessions {
		if file.Sessions[i].SessionID == encoded.SessionID {
			file.Sessions[i] = encoded
			updated = true
			break
		}
	}

	if !updated {
		file.Sessions = append(file.Sessions, encoded)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *Repository) Get(ctx context.Context, sessionID string) (domain.HealSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.HealSession{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.HealSession{}, err
	}

	for _, entry := range file.Sessions {
		if entry.SessionID == sessionID {
			return fromSchema(entry), nil
		}
	}

	return domain.HealSession{}, domain.ErrHealSessionNotFound
}

// Delete removes the record if present. Deleting an absent record is
// not an error; resolution paths race against each other by design of
// the handshake.
func (r *Repository) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	kept := file.Sessions[:0]
	for _, entry := range file.Sessions {
		if entry.SessionID != sessionID {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(file.Sessions) {
		return nil
	}
	file.Sessions = kept

	return r.writeSchema(file)
}

func (r *Repository) List(ctx context.Context) ([]domain.HealSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.HealSession, 0, len(file.Sessions))
	for _, entry := range file.Sessions {
		sessions = append(sessions, fromSchema(entry))
	}

	return sessions, nil
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.healPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, nil
		}
		return fileSchema{}, fmt.Errorf("read heal sessions file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode heal sessions file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.healPath), healDirMode); err != nil {
		return fmt.Errorf("create heal sessions directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode heal sessions file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.healPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp heal sessions file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp heal sessions file: %w", err)
	}

	if err := tempFile.Chmod(healFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp heal sessions file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp heal sessions file: %w", err)
	}

	if err := os.Rename(tempName, r.healPath); err != nil {
		return fmt.Errorf("replace heal sessions file: %w", err)
	}

	cleanup = false

	if err := os.Chmod(r.healPath, healFileMode); err != nil {
		return fmt.Errorf("chmod heal sessions file: %w", err)
	}

	return nil
}

func normalizeHealPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve heal sessions path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func toSchema(session domain.HealSession) sessionSchema {
	return sessionSchema{
		SessionID: session.SessionID,
		Timestamp: session.Timestamp.UnixMilli(),
		Status:    string(session.Status),
	}
}

func fromSchema(entry sessionSchema) domain.HealSession {
	return domain.HealSession{
		SessionID: entry.SessionID,
		Timestamp: time.UnixMilli(entry.Timestamp).UTC(),
		Status:    domain.HealStatus(entry.Status),
	}
}
