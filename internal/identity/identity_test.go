package identity_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/kitchenradio/kitchenradio-go/internal/identity"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

func TestVersionFromDir_Fallback(t *testing.T) {
	dir := t.TempDir()
	if got := identity.VersionFromDir(dir); got != identity.Version {
		t.Errorf("VersionFromDir(%q) = %q; want %q", dir, got, identity.Version)
	}
	if got := identity.VersionFromDir(""); got != identity.Version {
		t.Errorf("VersionFromDir(\"\") = %q", got)
	}
}

func TestVersionFromDir_FromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(`{"version":"1.4.2"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := identity.VersionFromDir(dir); got != "1.4.2" {
		t.Errorf("VersionFromDir = %q; want 1.4.2", got)
	}
}

func TestVersionFromDir_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := identity.VersionFromDir(dir); got != identity.Version {
		t.Errorf("VersionFromDir with invalid JSON = %q", got)
	}
}

func TestNew(t *testing.T) {
	info := identity.New("", "", []models.BackendType{models.BackendLocalQueue, models.BackendBluetooth})
	if info.Name != info.Hostname || info.Name == "" {
		t.Errorf("empty name should default to hostname: %+v", info)
	}
	txt := info.TXT()
	if !slices.Contains(txt, "backends=local_queue,bluetooth") {
		t.Errorf("TXT() = %v", txt)
	}
	if !slices.Contains(txt, "version="+identity.Version) {
		t.Errorf("TXT() = %v", txt)
	}
}
