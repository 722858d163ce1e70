// Package state реализует бекенды хранения состояния форвардера:
// курсоры пересылки, отметки доставки и сессию MTProto.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"tg-forwarder/internal/domain"
)

// File хранит состояние в JSON-файле внутри каталога. Бекенд по
// умолчанию: не требует внешних сервисов, каждая запись атомарна
// через переименование временного файла.
type File struct {
	dir  string
	path string

	mu   sync.Mutex
	data fileState
}

type fileState struct {
	Cursors map[string]domain.CursorSnapshot `json:"cursors"`
	Marks   map[string]map[int][]int64       `json:"marks"`
}

var _ domain.StateStore = (*File)(nil)

// NewFile открывает (или создаёт) каталог состояния.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("каталог состояния: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sessions"), 0o700); err != nil {
		return nil, fmt.Errorf("каталог сессий: %w", err)
	}

	f := &File{dir: dir, path: filepath.Join(dir, "state.json")}
	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("чтение состояния: %w", err)
	default:
		if err := json.Unmarshal(raw, &f.data); err != nil {
			return nil, fmt.Errorf("разбор состояния: %w", err)
		}
	}
	if f.data.Cursors == nil {
		f.data.Cursors = make(map[string]domain.CursorSnapshot)
	}
	if f.data.Marks == nil {
		f.data.Marks = make(map[string]map[int][]int64)
	}
	return f, nil
}

// LoadCursor возвращает сохранённый курсор.
func (f *File) LoadCursor(ctx context.Context, key string) (domain.CursorSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.data.Cursors[key]
	if !ok {
		return domain.CursorSnapshot{}, domain.ErrCursorNotFound
	}
	return snap, nil
}

// SaveCursor сохраняет позицию, перезаписывая прежнюю.
func (f *File) SaveCursor(ctx context.Context, snap domain.CursorSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.Cursors[snap.Key] = snap
	return f.persist()
}

// DeliveredTargets возвращает отмеченные места назначения сообщения.
func (f *File) DeliveredTargets(ctx context.Context, key string, msgID int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	marks := f.data.Marks[key][msgID]
	out := make([]int64, len(marks))
	copy(out, marks)
	return out, nil
}

// MarkDelivered отмечает подтверждённую доставку.
func (f *File) MarkDelivered(ctx context.Context, key string, msgID int, targetID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data.Marks[key] == nil {
		f.data.Marks[key] = make(map[int][]int64)
	}
	for _, id := range f.data.Marks[key][msgID] {
		if id == targetID {
			return nil
		}
	}
	f.data.Marks[key][msgID] = append(f.data.Marks[key][msgID], targetID)
	return f.persist()
}

// ClearDelivered снимает отметки сообщения.
func (f *File) ClearDelivered(ctx context.Context, key string, msgID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if byMsg := f.data.Marks[key]; byMsg != nil {
		delete(byMsg, msgID)
		if len(byMsg) == 0 {
			delete(f.data.Marks, key)
		}
	}
	return f.persist()
}

// LoadSessionBlob читает сессию MTProto.
func (f *File) LoadSessionBlob(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(f.sessionPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// StoreSessionBlob сохраняет сессию MTProto. Файл с сессией содержит
// ключи авторизации, поэтому права всегда 0600.
func (f *File) StoreSessionBlob(ctx context.Context, name string, data []byte) error {
	path := f.sessionPath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Close для файлового бекенда ничего не делает.
func (f *File) Close() error { return nil }

func (f *File) sessionPath(name string) string {
	if name == "" {
		name = "default"
	}
	return filepath.Join(f.dir, "sessions", name+".session")
}

// persist вызывается под f.mu.
func (f *File) persist() error {
	data, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
