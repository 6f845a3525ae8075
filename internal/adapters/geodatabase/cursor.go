package geodatabase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jobrunner/stratum/internal/domain"
)

// Cursor is a single-pass forward cursor over one layer, yielding
// feature chunks in rowid order. It is not restartable; a new cursor
// must be opened to reread a layer.
type Cursor struct {
	rows      *sql.Rows
	columns   []string
	layer     domain.Layer
	chunkSize int
	maxBad    int

	index   int
	offset  int64
	skipped int64
	done    bool
	closed  bool
}

// defaultMaxBadRecords caps consecutive unreadable records before the
// whole layer read is aborted.
const defaultMaxBadRecords = 100

func newCursor(rows *sql.Rows, columns []string, layer *domain.Layer, chunkSize int) *Cursor {
	return &Cursor{
		rows:      rows,
		columns:   columns,
		layer:     *layer,
		chunkSize: chunkSize,
		maxBad:    defaultMaxBadRecords,
	}
}

// SetMaxBadRecords overrides the consecutive-bad-record threshold.
// Values below 1 keep the default.
func (c *Cursor) SetMaxBadRecords(n int) {
	if n >= 1 {
		c.maxBad = n
	}
}

// Skipped returns the number of unreadable records skipped so far.
func (c *Cursor) Skipped() int64 {
	return c.skipped
}

// Next pulls the next chunk of up to chunkSize features. It returns
// domain.ErrCursorDone once the layer is exhausted. An unreadable
// record is skipped; after maxBad consecutive unreadable records the
// layer read is aborted with a ConversionError carrying the
// approximate offset.
func (c *Cursor) Next(ctx context.Context) (*domain.FeatureChunk, error) {
	if c.closed {
		return nil, domain.ErrCursorClosed
	}
	if c.done {
		return nil, domain.ErrCursorDone
	}

	chunk := &domain.FeatureChunk{
		LayerName: c.layer.Name,
		Index:     c.index,
		Offset:    c.offset,
		Features:  make([]domain.Feature, 0, c.chunkSize),
	}

	consecutiveBad := 0
	for len(chunk.Features) < c.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !c.rows.Next() {
			c.done = true
			if err := c.rows.Err(); err != nil {
				return nil, domain.NewConversionError(c.layer.Name, err)
			}
			break
		}

		feature, err := c.scanFeature()
		c.offset++
		if err != nil {
			c.skipped++
			consecutiveBad++
			if consecutiveBad >= c.maxBad {
				c.done = true
				return nil, &domain.ConversionError{
					Layer:  c.layer.Name,
					Offset: c.offset - 1,
					Err:    fmt.Errorf("%d consecutive unreadable records: %w", consecutiveBad, err),
				}
			}
			continue
		}
		consecutiveBad = 0
		chunk.Features = append(chunk.Features, feature)
	}

	if len(chunk.Features) == 0 {
		return nil, domain.ErrCursorDone
	}

	c.index++
	return chunk, nil
}

// scanFeature scans the current row into a Feature, stripping the
// container's geometry blob header down to standard WKB.
func (c *Cursor) scanFeature() (domain.Feature, error) {
	values := make([]interface{}, len(c.columns))
	ptrs := make([]interface{}, len(c.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	if err := c.rows.Scan(ptrs...); err != nil {
		return domain.Feature{}, err
	}

	feature := domain.Feature{
		Properties: make(map[string]interface{}, len(c.columns)),
	}

	for i, col := range c.columns {
		switch {
		case strings.EqualFold(col, "fid"):
			if v, ok := values[i].(int64); ok {
				feature.ID = v
			}
		case col == c.layer.GeometryColumn && c.layer.HasGeometry():
			if values[i] == nil {
				continue
			}
			blob, ok := values[i].([]byte)
			if !ok {
				return domain.Feature{}, fmt.Errorf("geometry column %s is not a blob", col)
			}
			geom, err := ParseGeometry(blob)
			if err != nil {
				return domain.Feature{}, fmt.Errorf("reading geometry: %w", err)
			}
			if !geom.Empty {
				feature.Geometry = geom.WKB
			}
		default:
			feature.Properties[col] = values[i]
		}
	}

	return feature, nil
}

// Close releases the cursor. Further Next calls fail.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}
