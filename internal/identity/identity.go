// Package identity provides the radio's identity: display name, host name
// and software version.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// Version is overridden at build time with
// -ldflags "-X github.com/kitchenradio/kitchenradio-go/internal/identity.Version=1.2.3".
var Version = "0.1.0-dev"

// Info is served by /api/info and advertised over mDNS.
type Info struct {
	Name      string    `json:"name"`
	Hostname  string    `json:"hostname"`
	Version   string    `json:"version"`
	Backends  []string  `json:"backends"`
	StartedAt time.Time `json:"started_at"`
}

// New collects identity information. stateDir may hold a metadata.json
// whose "version" field overrides the built-in version.
func New(name, stateDir string, backends []models.BackendType) Info {
	info := Info{
		Name:      name,
		Hostname:  Hostname(),
		Version:   VersionFromDir(stateDir),
		Backends:  make([]string, 0, len(backends)),
		StartedAt: time.Now().UTC(),
	}
	if info.Name == "" {
		info.Name = info.Hostname
	}
	for _, b := range backends {
		info.Backends = append(info.Backends, string(b))
	}
	return info
}

// Hostname returns the system hostname.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "kitchenradio"
	}
	return h
}

// VersionFromDir reads the version from dir/metadata.json, falling back to
// Version when the file is missing or unreadable.
func VersionFromDir(dir string) string {
	if dir == "" {
		return Version
	}
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return Version
	}
	var meta struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.Version == "" {
		return Version
	}
	return meta.Version
}

// Uptime is the time since the process collected its identity.
func (i Info) Uptime() time.Duration {
	return time.Since(i.StartedAt).Round(time.Second)
}

// TXT renders DNS-SD TXT records.
func (i Info) TXT() []string {
	return []string{
		"version=" + i.Version,
		"name=" + i.Name,
		"backends=" + strings.Join(i.Backends, ","),
		"path=/api",
	}
}
