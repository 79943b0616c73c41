package cgroupwatcher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsPopulated(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"populated", "populated 1\nfrozen 0\n", true},
		{"unpopulated", "populated 0\nfrozen 0\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "cgroup.events")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			got, err := isPopulated(path)
			if err != nil {
				t.Fatalf("isPopulated() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("isPopulated() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatchReturnsImmediatelyWhenAlreadyUnpopulated(t *testing.T) {
	dir := t.TempDir()
	subCgroup := filepath.Join(dir, "bst.1234")
	if err := os.Mkdir(subCgroup, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	eventsPath := filepath.Join(subCgroup, "cgroup.events")
	if err := os.WriteFile(eventsPath, []byte("populated 0\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	dirFile, err := os.Open(subCgroup)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer dirFile.Close()

	if err := Watch(dirFile); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if _, err := os.Stat(subCgroup); !os.IsNotExist(err) {
		t.Errorf("sub-cgroup directory still exists after Watch, stat err = %v", err)
	}
}
