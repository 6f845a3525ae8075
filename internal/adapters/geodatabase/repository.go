// Package geodatabase provides the SQLite-backed geodatabase container
// repository: catalog introspection and chunked feature cursors.
package geodatabase

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// Registers the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// Repository implements the SourceRepository port over SQLite-based
// geodatabase containers (GeoPackage layout: gpkg_contents plus
// gpkg_geometry_columns catalog tables).
type Repository struct {
	mu          sync.Mutex
	connections map[string]*sql.DB
}

// NewRepository creates a new geodatabase repository.
func NewRepository() *Repository {
	return &Repository{
		connections: make(map[string]*sql.DB),
	}
}

// Open opens a container and returns its catalog snapshot. The handle
// stays open for subsequent cursors until Close is called.
func (r *Repository) Open(ctx context.Context, path string) (*domain.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	db, err := r.acquire(ctx, path)
	if err != nil {
		return nil, err
	}

	layers, err := r.readLayers(ctx, db)
	if err != nil {
		r.release(path)
		return nil, fmt.Errorf("reading catalog of %s: %w", path, err)
	}

	return &domain.Source{
		Path:        path,
		Name:        DeriveSourceID(path),
		Size:        info.Size(),
		Layers:      layers,
		InspectedAt: time.Now().UTC(),
	}, nil
}

// Close releases the handle for a container. Cursors opened from it
// must already be closed.
func (r *Repository) Close(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, ok := r.connections[path]
	if !ok {
		return nil
	}
	delete(r.connections, path)
	return db.Close()
}

// OpenCursor opens a single-pass forward cursor over one layer. The
// statement streams rows in fid order; nothing is read ahead of the
// chunk being pulled.
func (r *Repository) OpenCursor(ctx context.Context, path, layerName string, chunkSize int) (output.FeatureCursor, error) {
	if chunkSize < 1 {
		return nil, &domain.ValidationError{
			Field:      "chunk_size",
			Value:      chunkSize,
			Constraint: ">= 1",
			Message:    "chunk size must be a positive integer",
		}
	}

	db, err := r.acquire(ctx, path)
	if err != nil {
		return nil, err
	}

	layer, err := r.describeLayer(ctx, db, layerName)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT * FROM "%s" ORDER BY rowid`, layerName) //#nosec G201 -- table name from trusted catalog
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.NewConversionError(layerName, fmt.Errorf("opening layer cursor: %w", err))
	}

	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, domain.NewConversionError(layerName, err)
	}

	return newCursor(rows, columns, layer, chunkSize), nil
}

// ComputeExtent scans only the geometry column of a layer and unions
// per-feature bounding boxes. Returns (nil, nil) for a layer with zero
// geometries.
func (r *Repository) ComputeExtent(ctx context.Context, path, layerName string) (*domain.Extent, error) {
	db, err := r.acquire(ctx, path)
	if err != nil {
		return nil, err
	}

	layer, err := r.describeLayer(ctx, db, layerName)
	if err != nil {
		return nil, err
	}
	if !layer.HasGeometry() {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT "%s" FROM "%s" WHERE "%s" IS NOT NULL`,
		layer.GeometryColumn, layerName, layer.GeometryColumn) //#nosec G201 -- names from trusted catalog
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var extent *domain.Extent
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}

		bound, err := blobBound(blob, layer.SRID)
		if err != nil {
			return nil, domain.NewConversionError(layerName, err)
		}
		if bound == nil {
			continue
		}

		if extent == nil {
			b := *bound
			extent = &b
		} else {
			extent.Union(*bound)
		}
	}

	return extent, rows.Err()
}

// blobBound returns a geometry blob's bounding box, preferring the
// header envelope and falling back to decoding the WKB payload.
func blobBound(blob []byte, srid int) (*domain.Extent, error) {
	geom, err := ParseGeometry(blob)
	if err != nil {
		return nil, err
	}
	if geom.Empty {
		return nil, nil
	}
	if geom.Envelope != nil {
		return geom.Envelope, nil
	}
	return GeometryBound(geom.WKB, srid)
}

// acquire returns the open handle for a container, opening it
// read-only on first use.
func (r *Repository) acquire(ctx context.Context, path string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.connections[path]; ok {
		return db, nil
	}

	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	// One cursor at a time per handle; the driver is not safe for
	// concurrent statements on one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	if err := verifyCatalog(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	r.connections[path] = db
	return db, nil
}

func (r *Repository) release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.connections[path]; ok {
		_ = db.Close()
		delete(r.connections, path)
	}
}

// verifyCatalog checks that the container carries the geodatabase
// catalog tables.
func verifyCatalog(ctx context.Context, db *sql.DB) error {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='gpkg_contents'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("not a readable geodatabase container: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("not a geodatabase container: missing gpkg_contents catalog")
	}
	return nil
}

// readLayers reads layer descriptors from the catalog in
// container-native order.
func (r *Repository) readLayers(ctx context.Context, db *sql.DB) ([]domain.Layer, error) {
	query := `
		SELECT
			c.table_name,
			COALESCE(c.description, ''),
			COALESCE(g.column_name, ''),
			COALESCE(g.geometry_type_name, 'NONE'),
			COALESCE(g.srs_id, 0)
		FROM gpkg_contents c
		LEFT JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type IN ('features', 'attributes')
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var layers []domain.Layer
	for rows.Next() {
		var l domain.Layer
		var geomType string
		if err := rows.Scan(&l.Name, &l.Description, &l.GeometryColumn, &geomType, &l.SRID); err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		l.GeometryType = normalizeGeometryType(geomType)
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range layers {
		if err := r.fillLayerDetail(ctx, db, &layers[i]); err != nil {
			return nil, err
		}
	}

	return layers, nil
}

// fillLayerDetail loads the field list and record count for one layer.
func (r *Repository) fillLayerDetail(ctx context.Context, db *sql.DB, layer *domain.Layer) error {
	query := fmt.Sprintf(`PRAGMA table_info("%s")`, layer.Name) //#nosec G201 -- table name from trusted catalog
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("describing layer %s: %w", layer.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid        int
			name       string
			declared   string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &declared, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		// fid and the geometry column are not attribute fields.
		if pk == 1 && strings.EqualFold(name, "fid") {
			continue
		}
		if name == layer.GeometryColumn {
			continue
		}
		layer.Fields = append(layer.Fields, domain.Field{
			Name: name,
			Type: mapDeclaredType(declared),
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, layer.Name) //#nosec G201 -- table name from trusted catalog
	return db.QueryRowContext(ctx, countQuery).Scan(&layer.RecordCount)
}

// describeLayer returns the catalog snapshot of one layer.
func (r *Repository) describeLayer(ctx context.Context, db *sql.DB, layerName string) (*domain.Layer, error) {
	layers, err := r.readLayers(ctx, db)
	if err != nil {
		return nil, err
	}
	for i := range layers {
		if layers[i].Name == layerName {
			return &layers[i], nil
		}
	}
	return nil, domain.ErrLayerNotFound
}

// mapDeclaredType maps a declared SQLite column type to the semantic
// field type the schema mapper understands. Unknown declarations are
// passed through so the mapper can reject them by name.
func mapDeclaredType(declared string) domain.FieldType {
	d := strings.ToUpper(strings.TrimSpace(declared))
	if idx := strings.Index(d, "("); idx > 0 {
		d = d[:idx]
	}
	switch d {
	case "BOOLEAN", "BOOL":
		return domain.FieldBoolean
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT":
		return domain.FieldInteger
	case "FLOAT", "DOUBLE", "REAL":
		return domain.FieldFloat
	case "TEXT", "VARCHAR", "CHAR", "CLOB":
		return domain.FieldText
	case "DATE", "DATETIME", "TIMESTAMP":
		return domain.FieldDate
	case "BLOB":
		return domain.FieldBinary
	default:
		return domain.FieldType(d)
	}
}

// normalizeGeometryType upper-cases a catalog geometry type name. The
// supported set is validated by the schema mapper, not here.
func normalizeGeometryType(name string) domain.GeometryType {
	return domain.GeometryType(strings.ToUpper(strings.TrimSpace(name)))
}

// DeriveSourceID derives a source ID from the container path. It
// strips the directory and the file extension.
func DeriveSourceID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
