// Package metadata maintains Iceberg-style table metadata for the tick
// history table, so the parquet files the history writer produces can be
// registered with an external catalog without rescanning the directory.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DataFile describes a single parquet file written by the history writer.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry is one added file inside a manifest. Status 1 marks the
// file as ADDED in Iceberg terms.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot points a snapshot id at the manifest written for one flush.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

// TableMetadata is the top level metadata document, rewritten after
// every flush with the full snapshot history of this run.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator accumulates snapshots for one table. It is driven from the
// history writer's flush path and is not safe for concurrent use.
type Generator struct {
	basePath  string
	tableName string
	tableUUID string
	snapshots []Snapshot
}

func NewGenerator(basePath, tableName string) *Generator {
	return &Generator{
		basePath:  basePath,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

// AddFile writes a one-entry manifest for the flushed file and rewrites
// the table metadata to make it the current snapshot.
func (g *Generator) AddFile(df DataFile) error {
	snapID := df.Timestamp.UnixNano()
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)

	if err := g.writeJSON(manifestFile, []ManifestEntry{{Status: 1, DataFile: df}}, false); err != nil {
		return err
	}

	g.snapshots = append(g.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestFile,
	})

	return g.writeJSON("metadata.json", TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.basePath,
		CurrentSnapshotID: snapID,
		Snapshots:         g.snapshots,
	}, true)
}

// WriteCatalogEntry drops a pointer file into catalogDir that names the
// table and its current metadata location.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}

	entry := map[string]string{
		"name":              g.tableName,
		"metadata_location": filepath.Join(g.basePath, "metadata", "metadata.json"),
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(catalogDir, g.tableName+".json"), b, 0o644)
}

// writeJSON writes a document under the table's metadata directory.
func (g *Generator) writeJSON(name string, doc any, indent bool) error {
	path := filepath.Join(g.basePath, "metadata", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var (
		b   []byte
		err error
	)
	if indent {
		b, err = json.MarshalIndent(doc, "", "  ")
	} else {
		b, err = json.Marshal(doc)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
