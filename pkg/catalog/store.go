package catalog

import (
	"database/sql"
	_ "embed"
	"fmt"
	"image"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/abworrall/opticam/pkg/frame"
	"github.com/abworrall/opticam/pkg/logging"
)

// schema.sql has the frames table (one row per processed frame) and the
// sources table (one row per measured source).
//
//go:embed schema.sql
var schemaSQL string

type Store struct {
	*sql.DB
}

// FrameRecord is one processed frame and everything found in it.
type FrameRecord struct {
	ID         int64
	Path       string
	Filter     string
	UT         string
	Background float64
	Threshold  float64
	NSources   int
	Sources    []Source // Not filled in by Frames
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog open '%s': %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog schema '%s': %w", path, err)
	}

	logging.Debugf("catalog: opened %s\n", path)
	return &Store{db}, nil
}

// RecordFrame stores the frame and its sources. Recording a path a
// second time replaces what was there.
func (s *Store) RecordFrame(fr FrameRecord) (int64, error) {
	tx, err := s.Begin()
	if err != nil {
		return 0, fmt.Errorf("record frame '%s': %w", fr.Path, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sources WHERE frame_id IN (SELECT id FROM frames WHERE path = ?)`, fr.Path); err != nil {
		return 0, fmt.Errorf("record frame '%s': %w", fr.Path, err)
	}
	if _, err := tx.Exec(`DELETE FROM frames WHERE path = ?`, fr.Path); err != nil {
		return 0, fmt.Errorf("record frame '%s': %w", fr.Path, err)
	}

	res, err := tx.Exec(`
		INSERT INTO frames (path, filter, ut, background, threshold, n_sources)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fr.Path, fr.Filter, fr.UT, fr.Background, fr.Threshold, len(fr.Sources))
	if err != nil {
		return 0, fmt.Errorf("record frame '%s': %w", fr.Path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record frame '%s': %w", fr.Path, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO sources (frame_id, label, area, flux, peak, x, y, bbox_x0, bbox_y0, bbox_x1, bbox_y1)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("record sources '%s': %w", fr.Path, err)
	}
	defer stmt.Close()

	for _, src := range fr.Sources {
		b := src.BBox
		if _, err := stmt.Exec(id, src.Label, src.Area, src.Flux, src.Peak, src.X, src.Y, b.Min.X, b.Min.Y, b.Max.X, b.Max.Y); err != nil {
			return 0, fmt.Errorf("record source %d of '%s': %w", src.Label, fr.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record frame '%s': %w", fr.Path, err)
	}
	return id, nil
}

// Frames lists every recorded frame, by filter and time.
func (s *Store) Frames() ([]FrameRecord, error) {
	rows, err := s.Query(`
		SELECT id, path, filter, ut, background, threshold, n_sources
		FROM frames ORDER BY filter, ut, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	out := []FrameRecord{}
	for rows.Next() {
		var fr FrameRecord
		if err := rows.Scan(&fr.ID, &fr.Path, &fr.Filter, &fr.UT, &fr.Background, &fr.Threshold, &fr.NSources); err != nil {
			return nil, fmt.Errorf("list frames: %w", err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// Sources returns the sources recorded for a frame, by label.
func (s *Store) Sources(frameID int64) ([]Source, error) {
	rows, err := s.Query(`
		SELECT label, area, flux, peak, x, y, bbox_x0, bbox_y0, bbox_x1, bbox_y1
		FROM sources WHERE frame_id = ? ORDER BY label
	`, frameID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := []Source{}
	for rows.Next() {
		var src Source
		var b image.Rectangle
		if err := rows.Scan(&src.Label, &src.Area, &src.Flux, &src.Peak, &src.X, &src.Y, &b.Min.X, &b.Min.Y, &b.Max.X, &b.Max.Y); err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		src.BBox = b
		out = append(out, src)
	}
	return out, rows.Err()
}

// LightCurvePoint is the flux of one source in one frame.
type LightCurvePoint struct {
	FrameID int64
	UT      string
	Flux    float64
	X, Y    float64
}

// Time parses the point's UT.
func (p LightCurvePoint) Time() (time.Time, error) {
	return frame.Frame{UT: p.UT}.Timestamp()
}

// LightCurve follows the source nearest (x,y) through every frame of
// the filter, in time order. Frames with no source within radius are
// left out.
func (s *Store) LightCurve(filter string, x, y, radius float64) ([]LightCurvePoint, error) {
	if !(radius > 0) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("light curve: radius %g", radius)
	}

	rows, err := s.Query(`
		SELECT f.id, f.ut, s.flux, s.x, s.y,
		       (s.x - ?) * (s.x - ?) + (s.y - ?) * (s.y - ?) AS d2
		FROM frames f JOIN sources s ON s.frame_id = f.id
		WHERE f.filter = ?
		  AND (s.x - ?) * (s.x - ?) + (s.y - ?) * (s.y - ?) <= ?
		ORDER BY f.ut, f.id, d2, s.label
	`, x, x, y, y, filter, x, x, y, y, radius*radius)
	if err != nil {
		return nil, fmt.Errorf("light curve: %w", err)
	}
	defer rows.Close()

	out := []LightCurvePoint{}
	for rows.Next() {
		var p LightCurvePoint
		var d2 float64
		if err := rows.Scan(&p.FrameID, &p.UT, &p.Flux, &p.X, &p.Y, &d2); err != nil {
			return nil, fmt.Errorf("light curve: %w", err)
		}
		// Rows come nearest first within each frame
		if len(out) > 0 && out[len(out)-1].FrameID == p.FrameID {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
