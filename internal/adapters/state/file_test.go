package state

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"tg-forwarder/internal/domain"
)

func TestFileStoreCursorSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := NewFile(dir)
	if err != nil {
		t.Fatalf("не удалось открыть хранилище: %v", err)
	}
	if _, err := st.LoadCursor(ctx, "run-1"); !errors.Is(err, domain.ErrCursorNotFound) {
		t.Fatalf("ожидали ErrCursorNotFound, получили %v", err)
	}

	snap := domain.CursorSnapshot{Key: "run-1", SourceID: 42, NextID: 107, SavedAt: time.Now().UTC()}
	if err := st.SaveCursor(ctx, snap); err != nil {
		t.Fatalf("не удалось сохранить курсор: %v", err)
	}

	reopened, err := NewFile(dir)
	if err != nil {
		t.Fatalf("не удалось переоткрыть хранилище: %v", err)
	}
	got, err := reopened.LoadCursor(ctx, "run-1")
	if err != nil {
		t.Fatalf("не удалось загрузить курсор: %v", err)
	}
	if got.SourceID != snap.SourceID || got.NextID != snap.NextID {
		t.Fatalf("курсор потерян при рестарте: %+v", got)
	}
	if !got.SavedAt.Equal(snap.SavedAt) {
		t.Fatalf("метка времени искажена: %s вместо %s", got.SavedAt, snap.SavedAt)
	}
}

func TestFileStoreMarks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFile(dir)
	if err != nil {
		t.Fatalf("не удалось открыть хранилище: %v", err)
	}

	if err := st.MarkDelivered(ctx, "run-1", 100, 200); err != nil {
		t.Fatalf("не удалось отметить доставку: %v", err)
	}
	if err := st.MarkDelivered(ctx, "run-1", 100, 201); err != nil {
		t.Fatalf("не удалось отметить доставку: %v", err)
	}
	// повторная отметка не плодит дубликаты
	if err := st.MarkDelivered(ctx, "run-1", 100, 200); err != nil {
		t.Fatalf("повторная отметка не должна падать: %v", err)
	}

	reopened, err := NewFile(dir)
	if err != nil {
		t.Fatalf("не удалось переоткрыть хранилище: %v", err)
	}
	marks, err := reopened.DeliveredTargets(ctx, "run-1", 100)
	if err != nil {
		t.Fatalf("не удалось прочитать отметки: %v", err)
	}
	if len(marks) != 2 {
		t.Fatalf("ожидали 2 отметки, получили %v", marks)
	}

	if err := reopened.ClearDelivered(ctx, "run-1", 100); err != nil {
		t.Fatalf("не удалось снять отметки: %v", err)
	}
	marks, err = reopened.DeliveredTargets(ctx, "run-1", 100)
	if err != nil {
		t.Fatalf("не удалось прочитать отметки: %v", err)
	}
	if len(marks) != 0 {
		t.Fatalf("отметки должны быть сняты: %v", marks)
	}
}

func TestFileStoreSessionBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFile(dir)
	if err != nil {
		t.Fatalf("не удалось открыть хранилище: %v", err)
	}

	if _, err := st.LoadSessionBlob(ctx, "main"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("ожидали ErrSessionNotFound, получили %v", err)
	}

	blob := []byte(`{"dc_id":2,"auth_key":"secret"}`)
	if err := st.StoreSessionBlob(ctx, "main", blob); err != nil {
		t.Fatalf("не удалось сохранить сессию: %v", err)
	}

	reopened, err := NewFile(dir)
	if err != nil {
		t.Fatalf("не удалось переоткрыть хранилище: %v", err)
	}
	got, err := reopened.LoadSessionBlob(ctx, "main")
	if err != nil {
		t.Fatalf("не удалось загрузить сессию: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("сессия искажена: %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}); err == nil {
		t.Fatal("ожидали ошибку для неизвестного драйвера")
	}
}
