package decision

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ManifestVersion tags the sidecar layout.
const ManifestVersion = 1

// SidecarName and ManifestName are the fixed file names inside the
// output directory.
const (
	SidecarName  = "decisions.msgpack"
	ManifestName = "decision_manifest.json"
)

// Descriptor is one entry of the manifest's hash table.
type Descriptor struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Count    int    `json:"count"`
}

// Manifest is the sidecar's metadata document.
type Manifest struct {
	Version       int                   `json:"version"`
	Timestamp     string                `json:"timestamp"`
	RunID         string                `json:"run_id"`
	SourceCommit  string                `json:"source_commit,omitempty"`
	DecisionCount int                   `json:"decision_count"`
	Decisions     map[string]Descriptor `json:"decisions"`
}

// WriteSidecar persists the collector's decisions under dir:
// decisions.msgpack holds length-prefixed MessagePack records in
// emission order, decision_manifest.json the metadata and hash table.
func (c *Collector) WriteSidecar(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sidecar directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, SidecarName))
	if err != nil {
		return fmt.Errorf("create sidecar: %w", err)
	}
	defer f.Close()

	var lenBuf [4]byte
	for _, d := range c.decisions {
		payload, err := msgpack.Marshal(&d)
		if err != nil {
			return fmt.Errorf("encode decision %s::%s: %w", d.Category, d.Name, err)
		}
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		if _, err := f.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("write sidecar: %w", err)
		}
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("write sidecar: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close sidecar: %w", err)
	}

	manifest := Manifest{
		Version:       ManifestVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		RunID:         uuid.NewString(),
		DecisionCount: len(c.decisions),
		Decisions:     make(map[string]Descriptor, len(c.decisions)),
	}
	for _, d := range c.decisions {
		key := fmt.Sprintf("%016x", d.ID)
		desc := manifest.Decisions[key]
		desc.Category = d.Category
		desc.Name = d.Name
		desc.File = d.File
		desc.Line = d.Line
		desc.Count++
		manifest.Decisions[key] = desc
	}

	data, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadSidecar loads the length-prefixed records back, primarily for
// tests and downstream tooling.
func ReadSidecar(path string) ([]Decision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Decision
	for len(data) >= 4 {
		n := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < n {
			return nil, fmt.Errorf("truncated sidecar record (%d of %d bytes)", len(data), n)
		}
		var d Decision
		if err := msgpack.Unmarshal(data[:n], &d); err != nil {
			return nil, fmt.Errorf("decode sidecar record: %w", err)
		}
		out = append(out, d)
		data = data[n:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("trailing %d bytes in sidecar", len(data))
	}
	return out, nil
}
