// Package parquet writes layer chunks as Apache Parquet artifacts via
// the Arrow columnar representation.
package parquet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// Factory creates Parquet layer writers. It hands out unique artifact
// names for the lifetime of one conversion job.
type Factory struct {
	compression string
	allocator   memory.Allocator
	mu          sync.Mutex
	artifacts   map[string]bool
}

// NewFactory creates a writer factory. Supported compression codecs
// are snappy (default), zstd, gzip and none.
func NewFactory(compression string) *Factory {
	return &Factory{
		compression: compression,
		allocator:   memory.NewGoAllocator(),
		artifacts:   make(map[string]bool),
	}
}

// NewLayerWriter creates a Parquet writer for one layer. The writer
// streams into a temporary file; the artifact appears under its final
// name only once Close succeeds.
func (f *Factory) NewLayerWriter(schema *domain.TargetSchema, outputDir string) (output.LayerWriter, error) {
	arrowSchema, err := buildArrowSchema(schema)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(outputDir, f.artifactName(schema.LayerName))
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating artifact %s: %w", path, err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(mapCompressionCodec(f.compression)),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(arrowSchema, file, writerProps, arrowProps)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}

	return &Writer{
		schema:      schema,
		arrowSchema: arrowSchema,
		allocator:   f.allocator,
		writer:      fw,
		path:        path,
		tmpPath:     tmpPath,
	}, nil
}

// artifactName returns a unique file name for a layer's artifact.
// Flattening path separators can make distinct layer names collide;
// later claimants get a numeric suffix in encounter order. Names are
// compared case-insensitively.
func (f *Factory) artifactName(layerName string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	base := strings.TrimSuffix(ArtifactName(layerName), ".parquet")
	name := base
	for n := 1; f.artifacts[strings.ToLower(name)]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	f.artifacts[strings.ToLower(name)] = true
	return name + ".parquet"
}

// Writer implements the LayerWriter port for one Parquet artifact.
type Writer struct {
	schema      *domain.TargetSchema
	arrowSchema *arrow.Schema
	allocator   memory.Allocator
	writer      *pqarrow.FileWriter
	path        string
	tmpPath     string
	rows        int64
	closed      bool
}

// Write encodes one chunk as an Arrow record batch and appends it.
func (w *Writer) Write(_ context.Context, chunk *domain.FeatureChunk) error {
	builders := make([]array.Builder, w.arrowSchema.NumFields())
	for i, field := range w.arrowSchema.Fields() {
		builders[i] = array.NewBuilder(w.allocator, field.Type)
		builders[i].Reserve(chunk.Len())
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for fi := range chunk.Features {
		feature := &chunk.Features[fi]
		for i, tf := range w.schema.Fields {
			raw, _ := feature.GetProperty(tf.SourceName)
			value, err := domain.CoerceValue(raw, tf.Type)
			if err != nil {
				return &domain.ConversionError{
					Layer:  chunk.LayerName,
					Field:  tf.Name,
					Offset: chunk.Offset + int64(fi),
					Err:    err,
				}
			}
			appendValue(builders[i], value)
		}
		if w.schema.Geometry != nil {
			appendValue(builders[len(w.schema.Fields)], geometryValue(feature))
		}
	}

	arrays := make([]arrow.Array, len(builders))
	for i, b := range builders {
		arrays[i] = b.NewArray()
	}
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	record := array.NewRecord(w.arrowSchema, arrays, int64(chunk.Len()))
	defer record.Release()

	if err := w.writer.Write(record); err != nil {
		return domain.NewConversionError(chunk.LayerName, fmt.Errorf("writing parquet batch: %w", err))
	}

	w.rows += int64(chunk.Len())
	return nil
}

// Rows returns the number of records written so far.
func (w *Writer) Rows() int64 {
	return w.rows
}

// Path returns the artifact's file path.
func (w *Writer) Path() string {
	return w.path
}

// Close flushes the artifact and moves it to its final path. The
// parquet writer closes the underlying file itself.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("finalizing parquet artifact: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("publishing parquet artifact: %w", err)
	}
	return nil
}

// Abort discards the partial artifact. The final path is never touched
// because a writer only renames onto it after a successful Close.
func (w *Writer) Abort() error {
	if !w.closed {
		w.closed = true
		_ = w.writer.Close()
	}
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// geometryValue returns the feature's WKB payload or nil.
func geometryValue(f *domain.Feature) interface{} {
	if f.Geometry == nil {
		return nil
	}
	return f.Geometry
}

// appendValue appends a coerced value to its column builder. A nil
// value becomes a null cell.
func appendValue(builder array.Builder, value interface{}) {
	if value == nil {
		builder.AppendNull()
		return
	}

	switch b := builder.(type) {
	case *array.Int64Builder:
		b.Append(value.(int64))
	case *array.Float64Builder:
		b.Append(value.(float64))
	case *array.StringBuilder:
		b.Append(value.(string))
	case *array.BooleanBuilder:
		b.Append(value.(bool))
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(value.(time.Time).UnixMicro()))
	case *array.BinaryBuilder:
		b.Append(value.([]byte))
	default:
		builder.AppendNull()
	}
}

// buildArrowSchema maps a target schema to an Arrow schema. The
// geometry column carries its encoding, geometry type and CRS as field
// metadata; a GeoParquet-style "geo" entry rides on the schema.
func buildArrowSchema(schema *domain.TargetSchema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, schema.ColumnCount())

	for _, tf := range schema.Fields {
		at, err := arrowType(tf.Type)
		if err != nil {
			return nil, &domain.ConversionError{Layer: schema.LayerName, Field: tf.Name, Offset: -1, Err: err}
		}
		fields = append(fields, arrow.Field{Name: tf.Name, Type: at, Nullable: true})
	}

	var metadata arrow.Metadata
	if schema.Geometry != nil {
		g := schema.Geometry
		fields = append(fields, arrow.Field{
			Name:     g.Name,
			Type:     arrow.BinaryTypes.Binary,
			Nullable: true,
			Metadata: arrow.NewMetadata(
				[]string{"encoding", "geometry_type", "crs"},
				[]string{g.Encoding, string(g.GeometryType), fmt.Sprintf("EPSG:%d", g.SRID)},
			),
		})
		metadata = arrow.NewMetadata([]string{"geo"}, []string{geoMetadata(g)})
	}

	return arrow.NewSchema(fields, &metadata), nil
}

// arrowType maps a target column type to its Arrow data type.
func arrowType(t domain.TargetType) (arrow.DataType, error) {
	switch t {
	case domain.TargetInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case domain.TargetFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case domain.TargetString:
		return arrow.BinaryTypes.String, nil
	case domain.TargetTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case domain.TargetBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case domain.TargetBinary:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("no arrow mapping for target type %q", t)
	}
}

// geoMetadata builds the file-level geo metadata JSON for the geometry
// column.
func geoMetadata(g *domain.GeometryColumn) string {
	doc := map[string]interface{}{
		"version":        "1.0.0",
		"primary_column": g.Name,
		"columns": map[string]interface{}{
			g.Name: map[string]interface{}{
				"encoding":       g.Encoding,
				"geometry_types": []string{string(g.GeometryType)},
				"crs":            fmt.Sprintf("EPSG:%d", g.SRID),
			},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// mapCompressionCodec maps a codec name to its parquet codec.
func mapCompressionCodec(name string) compress.Compression {
	switch strings.ToLower(name) {
	case "zstd":
		return compress.Codecs.Zstd
	case "gzip":
		return compress.Codecs.Gzip
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}

// ArtifactName returns the deterministic artifact file name for a
// layer. Path separators in layer names are flattened so the artifact
// always lands directly in the output directory.
func ArtifactName(layerName string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(layerName)
	return name + ".parquet"
}
