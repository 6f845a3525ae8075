package parquet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/jobrunner/stratum/internal/domain"
)

func testSchema() *domain.TargetSchema {
	return &domain.TargetSchema{
		LayerName: "parcels",
		Fields: []domain.TargetField{
			{Name: "owner", SourceName: "owner", Type: domain.TargetString},
			{Name: "area", SourceName: "area", Type: domain.TargetFloat64},
			{Name: "zone", SourceName: "zone", Type: domain.TargetInt64},
			{Name: "built", SourceName: "built", Type: domain.TargetBool},
			{Name: "updated", SourceName: "updated", Type: domain.TargetTimestamp},
		},
		Geometry: &domain.GeometryColumn{
			Name:         "geometry",
			Encoding:     "WKB",
			GeometryType: domain.GeomPolygon,
			SRID:         4326,
		},
	}
}

func testChunk(n int) *domain.FeatureChunk {
	chunk := &domain.FeatureChunk{LayerName: "parcels"}
	for i := 0; i < n; i++ {
		chunk.Features = append(chunk.Features, domain.Feature{
			ID:       int64(i + 1),
			Geometry: []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
			Properties: map[string]interface{}{
				"owner":   "owner",
				"area":    float64(i) * 1.5,
				"zone":    int64(i % 3),
				"built":   i%2 == 0,
				"updated": time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			},
		})
	}
	return chunk
}

func readRowCount(t *testing.T, path string) int64 {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	defer func() { _ = f.Close() }()

	reader, err := file.NewParquetReader(f)
	if err != nil {
		t.Fatalf("reading parquet: %v", err)
	}
	defer func() { _ = reader.Close() }()

	return reader.NumRows()
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory("snappy")

	w, err := factory.NewLayerWriter(testSchema(), dir)
	if err != nil {
		t.Fatalf("NewLayerWriter: %v", err)
	}

	ctx := context.Background()
	if err := w.Write(ctx, testChunk(100)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(ctx, testChunk(50)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	wantPath := filepath.Join(dir, "parcels.parquet")
	if w.Path() != wantPath {
		t.Errorf("Path() = %q, want %q", w.Path(), wantPath)
	}

	if got := readRowCount(t, wantPath); got != 150 {
		t.Errorf("row count = %d, want 150", got)
	}
}

func TestWriterSchemaMetadata(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory("none")

	w, err := factory.NewLayerWriter(testSchema(), dir)
	if err != nil {
		t.Fatalf("NewLayerWriter: %v", err)
	}
	if err := w.Write(context.Background(), testChunk(1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	defer func() { _ = f.Close() }()

	reader, err := file.NewParquetReader(f)
	if err != nil {
		t.Fatalf("reading parquet: %v", err)
	}
	defer func() { _ = reader.Close() }()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, nil)
	if err != nil {
		t.Fatalf("arrow reader: %v", err)
	}
	schema, err := arrowReader.Schema()
	if err != nil {
		t.Fatalf("reading schema: %v", err)
	}

	if schema.NumFields() != 6 {
		t.Fatalf("field count = %d, want 6", schema.NumFields())
	}

	geomField := schema.Field(5)
	if geomField.Name != "geometry" {
		t.Errorf("geometry field name = %q", geomField.Name)
	}
	if v, ok := geomField.Metadata.GetValue("encoding"); !ok || v != "WKB" {
		t.Errorf("geometry encoding metadata = %q, %v", v, ok)
	}
	if v, ok := geomField.Metadata.GetValue("crs"); !ok || v != "EPSG:4326" {
		t.Errorf("geometry crs metadata = %q, %v", v, ok)
	}
}

func TestWriterCoercionFailure(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory("snappy")

	w, err := factory.NewLayerWriter(testSchema(), dir)
	if err != nil {
		t.Fatalf("NewLayerWriter: %v", err)
	}

	chunk := testChunk(1)
	chunk.Features[0].Properties["zone"] = "not-a-number"
	chunk.Offset = 200

	err = w.Write(context.Background(), chunk)
	var cErr *domain.ConversionError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if cErr.Layer != "parcels" || cErr.Field != "zone" {
		t.Errorf("error context = %s/%s, want parcels/zone", cErr.Layer, cErr.Field)
	}
	if cErr.Offset != 200 {
		t.Errorf("error offset = %d, want 200", cErr.Offset)
	}

	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Error("aborted artifact should be removed")
	}
}

func TestWriterEmptyLayerArtifact(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory("snappy")

	w, err := factory.NewLayerWriter(testSchema(), dir)
	if err != nil {
		t.Fatalf("NewLayerWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A schema-only artifact is still a valid parquet file.
	if got := readRowCount(t, w.Path()); got != 0 {
		t.Errorf("row count = %d, want 0", got)
	}
}

func TestWriterFinalizeRename(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory("snappy")

	w, err := factory.NewLayerWriter(testSchema(), dir)
	if err != nil {
		t.Fatalf("NewLayerWriter: %v", err)
	}
	if err := w.Write(context.Background(), testChunk(10)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The final path must not exist until Close has flushed the footer.
	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Fatal("artifact visible before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if got := readRowCount(t, w.Path()); got != 10 {
		t.Errorf("row count = %d, want 10", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "parcels.parquet" {
		t.Errorf("output dir entries = %v, want only parcels.parquet", entries)
	}
}

func TestWriterArtifactNameCollision(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory("snappy")

	first := testSchema()
	first.LayerName = "roads/main"
	second := testSchema()
	second.LayerName = "roads_main"

	w1, err := factory.NewLayerWriter(first, dir)
	if err != nil {
		t.Fatalf("NewLayerWriter: %v", err)
	}
	w2, err := factory.NewLayerWriter(second, dir)
	if err != nil {
		t.Fatalf("NewLayerWriter: %v", err)
	}

	if want := filepath.Join(dir, "roads_main.parquet"); w1.Path() != want {
		t.Errorf("first path = %q, want %q", w1.Path(), want)
	}
	if want := filepath.Join(dir, "roads_main_1.parquet"); w2.Path() != want {
		t.Errorf("second path = %q, want %q", w2.Path(), want)
	}

	for _, w := range []interface{ Close() error }{w1, w2} {
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	for _, name := range []string{"roads_main.parquet", "roads_main_1.parquet"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}
}

func TestFactoryArtifactNameCaseFold(t *testing.T) {
	factory := NewFactory("snappy")

	if got := factory.artifactName("Parcels"); got != "Parcels.parquet" {
		t.Fatalf("first claim = %q", got)
	}
	if got := factory.artifactName("parcels"); got != "parcels_1.parquet" {
		t.Errorf("case-folded collision = %q, want parcels_1.parquet", got)
	}
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		layer string
		want  string
	}{
		{"parcels", "parcels.parquet"},
		{"main.roads", "main.roads.parquet"},
		{"nested/layer", "nested_layer.parquet"},
	}

	for _, tt := range tests {
		if got := ArtifactName(tt.layer); got != tt.want {
			t.Errorf("ArtifactName(%q) = %q, want %q", tt.layer, got, tt.want)
		}
	}
}
