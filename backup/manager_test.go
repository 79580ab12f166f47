package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateCompressEncryptValidateRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	srcData := filepath.Join(dir, "source.txt")
	if err := os.WriteFile(srcData, []byte("dump contents"), 0600); err != nil {
		t.Fatal(err)
	}

	mgr := New(Config{
		Dir:            dir,
		DumpCommand:    []string{"cat", srcData},
		RestoreCommand: []string{"tee", filepath.Join(dir, "restored.txt")},
		Compress:       true,
		EncryptionKey:  &key,
	})

	rec, err := mgr.Create(context.Background(), Full)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rec.Failed {
		t.Fatalf("record marked failed: %s", rec.Error)
	}
	if !strings.HasSuffix(rec.Path, ".gz.enc") {
		t.Fatalf("expected .gz.enc path, got %s", rec.Path)
	}

	if err := mgr.Validate(rec); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	if err := mgr.Restore(context.Background(), rec); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
}

func TestValidateDetectsTamperedChecksum(t *testing.T) {
	dir := t.TempDir()
	mgr := New(Config{Dir: dir})
	path := filepath.Join(dir, "full_backup_1")
	os.WriteFile(path, []byte("original"), 0600)
	rec := &Record{Path: path, Checksum: "deadbeef"}

	if err := mgr.Validate(rec); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestApplyRetentionRemovesOldRecords(t *testing.T) {
	dir := t.TempDir()
	mgr := New(Config{Dir: dir, Retention: 0})
	mgr.history = []Record{{ID: "old", Path: filepath.Join(dir, "x")}}
	os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0600)

	mgr.config.Retention = 1
	removed := mgr.ApplyRetention()
	if len(removed) != 1 {
		t.Fatalf("expected the old record (zero EndedAt) to be removed, got %d", len(removed))
	}
}
