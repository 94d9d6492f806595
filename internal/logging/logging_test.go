package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSink_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pharmasync.log")
	sink := NewSink(Options{File: path, MaxSizeMB: 1, MaxBackups: 2, Quiet: true})

	sink.Logger("sync").Printf("Synced %d record(s)", 3)
	sink.Logger("monitor").Println("Connectivity changed: online")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	for _, want := range []string{"[sync] ", "Synced 3 record(s)", "[monitor] "} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file lacks %q:\n%s", want, data)
		}
	}
}

func TestSink_LoggerReuse(t *testing.T) {
	sink := NewSink(Options{Quiet: true})
	if sink.Logger("store") != sink.Logger("store") {
		t.Error("Logger() should return the same logger per component")
	}
	if got := sink.Logger("backup").Prefix(); got != "[backup] " {
		t.Errorf("Prefix() = %q", got)
	}
	if err := sink.Rotate(); err != nil {
		t.Errorf("Rotate() without file = %v", err)
	}
}

func TestSink_Rotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pharmasync.log")
	sink := NewSink(Options{File: path, Quiet: true})
	defer sink.Close()

	sink.Logger("sync").Println("before rotation")
	if err := sink.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	sink.Logger("sync").Println("after rotation")

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("files after rotation = %d, want 2", len(entries))
	}
}
