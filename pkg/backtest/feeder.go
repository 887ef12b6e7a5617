package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Point is one observation of the replayed series.
type Point struct {
	At    time.Time
	Price float64
}

// Feeder yields the replayed series in order. ok is false once exhausted.
type Feeder interface {
	Next(ctx context.Context) (p Point, ok bool, err error)
}

// SeriesFeeder replays an in-memory price series, spacing points by step.
type SeriesFeeder struct {
	points []Point
	idx    int
}

// NewSeriesFeeder stamps prices from start at step intervals.
func NewSeriesFeeder(start time.Time, step time.Duration, prices []float64) *SeriesFeeder {
	points := make([]Point, len(prices))
	for i, px := range prices {
		points[i] = Point{At: start.Add(time.Duration(i) * step), Price: px}
	}
	return &SeriesFeeder{points: points}
}

func (f *SeriesFeeder) Next(ctx context.Context) (Point, bool, error) {
	if err := ctx.Err(); err != nil {
		return Point{}, false, err
	}
	if f.idx >= len(f.points) {
		return Point{}, false, nil
	}
	p := f.points[f.idx]
	f.idx++
	return p, true, nil
}

// Len is the number of points in the series.
func (f *SeriesFeeder) Len() int { return len(f.points) }

// LoadCSVFile reads a price series from path. See LoadCSV.
func LoadCSVFile(path string) (*SeriesFeeder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open series: %w", err)
	}
	defer f.Close()
	return LoadCSV(f)
}

// LoadCSV reads rows of "timestamp,close" or a bare "close" column. The
// timestamp is unix seconds or RFC 3339; an optional header row is skipped.
// Rows without a timestamp are spaced one minute apart.
func LoadCSV(r io.Reader) (*SeriesFeeder, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("backtest: read series: %w", err)
	}
	base := time.Unix(0, 0).UTC()
	var points []Point
	for i, rec := range records {
		if len(rec) == 0 || strings.TrimSpace(rec[len(rec)-1]) == "" {
			continue
		}
		px, err := strconv.ParseFloat(strings.TrimSpace(rec[len(rec)-1]), 64)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("backtest: row %d: invalid close %q", i+1, rec[len(rec)-1])
		}
		if px <= 0 {
			return nil, fmt.Errorf("backtest: row %d: close must be positive", i+1)
		}
		at := base.Add(time.Duration(len(points)) * time.Minute)
		if len(rec) > 1 {
			if at, err = parseStamp(rec[0]); err != nil {
				return nil, fmt.Errorf("backtest: row %d: %w", i+1, err)
			}
		}
		points = append(points, Point{At: at, Price: px})
	}
	if len(points) == 0 {
		return nil, errors.New("backtest: series is empty")
	}
	return &SeriesFeeder{points: points}, nil
}

func parseStamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	return t.UTC(), nil
}
