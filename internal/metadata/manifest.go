// Package metadata maintains a local Iceberg-style manifest of the order
// book files uploaded by the writer, so the table can be registered with a
// catalog without listing the bucket.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DataFile describes one parquet file of book levels.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	MinNonce    int64          `json:"min_nonce"`
	MaxNonce    int64          `json:"max_nonce"`
	MinTime     int64          `json:"min_timestamp_ms"`
	MaxTime     int64          `json:"max_timestamp_ms"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry is one line of a manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

type Snapshot struct {
	SnapshotID  int64             `json:"snapshot-id"`
	TimestampMs int64             `json:"timestamp-ms"`
	Manifest    string            `json:"manifest-list"`
	Summary     map[string]string `json:"summary"`
}

// TableMetadata is the table level metadata.json document.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	LastUpdatedMs     int64      `json:"last-updated-ms"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator appends one snapshot per registered file. It is safe for
// concurrent use by several writer workers.
type Generator struct {
	mu        sync.Mutex
	basePath  string
	location  string
	tableName string
	tableUUID string
	lastID    int64
	records   int64
	snapshots []Snapshot
}

// NewGenerator returns a generator writing under basePath for a table stored
// at location (for example s3://bucket/prefix).
func NewGenerator(basePath, location, tableName string) *Generator {
	return &Generator{
		basePath:  basePath,
		location:  location,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

// AddFile writes a manifest for df and rewrites the table metadata.
func (g *Generator) AddFile(df DataFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if df.Timestamp.IsZero() {
		df.Timestamp = time.Now().UTC()
	}
	snapID := df.Timestamp.UnixNano()
	if snapID <= g.lastID {
		snapID = g.lastID + 1
	}
	g.lastID = snapID

	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	b, err := json.Marshal([]ManifestEntry{{Status: 1, DataFile: df}})
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	g.records += df.RecordCount
	g.snapshots = append(g.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestFile,
		Summary: map[string]string{
			"operation":     "append",
			"added-records": fmt.Sprint(df.RecordCount),
			"total-records": fmt.Sprint(g.records),
		},
	})
	return g.writeTableMetadata()
}

// Snapshots returns a copy of the registered snapshots.
func (g *Generator) Snapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Snapshot, len(g.snapshots))
	copy(out, g.snapshots)
	return out
}

func (g *Generator) metadataPath() string {
	return filepath.Join(g.basePath, "metadata", "metadata.json")
}

func (g *Generator) writeTableMetadata() error {
	if len(g.snapshots) == 0 {
		return nil
	}
	last := g.snapshots[len(g.snapshots)-1]
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.location,
		LastUpdatedMs:     last.TimestampMs,
		CurrentSnapshotID: last.SnapshotID,
		Snapshots:         g.snapshots,
	}
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal table metadata: %w", err)
	}
	tmp := g.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write table metadata: %w", err)
	}
	return os.Rename(tmp, g.metadataPath())
}

// WriteCatalogEntry creates a catalog entry pointing at the table metadata.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	entry := map[string]string{
		"name":              g.tableName,
		"table_uuid":        g.tableUUID,
		"location":          g.location,
		"metadata_location": g.metadataPath(),
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(catalogDir, g.tableName+".json"), b, 0o644)
}
