package allowlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"phone-gate-bot/internal/duration"
	apperrors "phone-gate-bot/internal/errors"
)

// FileStore implements Store on two small files: a sorted newline-delimited
// list of permanent numbers and a JSON array of temporary records. Every
// mutation rewrites the whole file; every read re-reads it.
type FileStore struct {
	allowedPath string
	tempPath    string
	logger      *slog.Logger

	now func() time.Time
}

// NewFileStore creates a file-backed allow-list store, ensuring the parent
// directories exist.
func NewFileStore(allowedPath, tempPath string, logger *slog.Logger) (*FileStore, error) {
	for _, p := range []string{allowedPath, tempPath} {
		dir := filepath.Dir(p)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}
	return &FileStore{
		allowedPath: allowedPath,
		tempPath:    tempPath,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *FileStore) Add(phone string) error {
	numbers, err := s.ReadPermanent()
	if err != nil {
		return err
	}
	if _, ok := numbers[phone]; ok {
		return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, phone)
	}
	numbers[phone] = struct{}{}
	return s.WritePermanent(numbers)
}

func (s *FileStore) Remove(phone string) (Membership, error) {
	numbers, err := s.ReadPermanent()
	if err != nil {
		return Membership{}, err
	}
	temps, err := s.ReadTemp()
	if err != nil {
		return Membership{}, err
	}

	var m Membership
	if _, ok := numbers[phone]; ok {
		m.Permanent = true
		delete(numbers, phone)
	}
	kept := temps[:0]
	for _, e := range temps {
		if e.Phone == phone {
			m.Temporary = true
			continue
		}
		kept = append(kept, e)
	}
	if m.Absent() {
		return m, fmt.Errorf("%w: %s", apperrors.ErrNotFound, phone)
	}

	if m.Permanent {
		if err := s.WritePermanent(numbers); err != nil {
			return m, err
		}
	}
	if m.Temporary {
		if err := s.WriteTemp(kept); err != nil {
			return m, err
		}
	}
	return m, nil
}

func (s *FileStore) Exists(phone string) (Membership, error) {
	numbers, err := s.ReadPermanent()
	if err != nil {
		return Membership{}, err
	}
	temps, err := s.ReadTemp()
	if err != nil {
		return Membership{}, err
	}

	var m Membership
	_, m.Permanent = numbers[phone]
	for _, e := range temps {
		if e.Phone == phone {
			m.Temporary = true
			break
		}
	}
	return m, nil
}

func (s *FileStore) AddTemporary(phone string, expiry time.Time) error {
	temps, err := s.ReadTemp()
	if err != nil {
		return err
	}
	now := s.now()
	kept := temps[:0]
	for _, e := range temps {
		if e.Phone == phone {
			if !e.Expired(now) {
				return fmt.Errorf("%w: %s (temporary)", apperrors.ErrAlreadyExists, phone)
			}
			// Expired leftover, replaced below.
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, TempEntry{Phone: phone, Expiry: expiry.Format(time.RFC3339)})
	return s.WriteTemp(kept)
}

func (s *FileStore) ListCombined() ([]ListedEntry, error) {
	numbers, err := s.ReadPermanent()
	if err != nil {
		return nil, err
	}
	temps, err := s.ReadTemp()
	if err != nil {
		return nil, err
	}

	now := s.now()
	tempSet := make(map[string]struct{}, len(temps))
	combined := make([]ListedEntry, 0, len(temps)+len(numbers))
	for _, e := range temps {
		tempSet[e.Phone] = struct{}{}
		entry := ListedEntry{Phone: e.Phone, Temporary: true}
		if t, err := e.ExpiryTime(); err == nil {
			entry.Label = duration.LeftoverLabel(t, now)
		}
		combined = append(combined, entry)
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i].Phone < combined[j].Phone })

	perms := make([]string, 0, len(numbers))
	for num := range numbers {
		if _, ok := tempSet[num]; ok {
			continue
		}
		perms = append(perms, num)
	}
	sort.Strings(perms)
	for _, num := range perms {
		combined = append(combined, ListedEntry{Phone: num})
	}
	return combined, nil
}

func (s *FileStore) ReadPermanent() (map[string]struct{}, error) {
	numbers := make(map[string]struct{})
	data, err := os.ReadFile(s.allowedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return numbers, nil
		}
		return nil, fmt.Errorf("read allowed numbers: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if num := strings.TrimSpace(line); num != "" {
			numbers[num] = struct{}{}
		}
	}
	return numbers, nil
}

func (s *FileStore) WritePermanent(numbers map[string]struct{}) error {
	sorted := make([]string, 0, len(numbers))
	for num := range numbers {
		sorted = append(sorted, num)
	}
	sort.Strings(sorted)

	var buf []byte
	for _, num := range sorted {
		buf = append(buf, num...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(s.allowedPath, buf, 0644); err != nil {
		return fmt.Errorf("write allowed numbers: %w", err)
	}
	return nil
}

func (s *FileStore) ReadTemp() ([]TempEntry, error) {
	data, err := os.ReadFile(s.tempPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read temporary numbers: %w", err)
	}
	var entries []TempEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Corrupt file reads as empty; a mutation will rewrite it.
		s.logger.Error("temporary numbers file is corrupt, treating as empty",
			"path", s.tempPath, "error", err)
		return nil, nil
	}
	return entries, nil
}

func (s *FileStore) WriteTemp(entries []TempEntry) error {
	if entries == nil {
		entries = []TempEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode temporary numbers: %w", err)
	}
	if err := os.WriteFile(s.tempPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write temporary numbers: %w", err)
	}
	return nil
}
