// Package landuse loads per-zone population, employment and area.
package landuse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/netprep/internal/errs"
	"github.com/sells-group/netprep/internal/fetcher"
)

// Column names, matched case-insensitively.
const (
	ColZone  = "MAZ_ORIGINAL"
	ColPop   = "POP"
	ColEmp   = "emp_total"
	ColAcres = "ACRES"
)

// RequiredColumns lists the columns every land-use table must carry.
var RequiredColumns = []string{ColZone, ColPop, ColEmp, ColAcres}

// Record is one zone's land use.
type Record struct {
	ZoneID int     `json:"zone_id"`
	Pop    float64 `json:"pop"`
	Emp    float64 `json:"emp"`
	Acres  float64 `json:"acres"`
}

// Table holds records keyed by zone id.
type Table map[int]Record

// IDs returns the zone ids in ascending order.
func (t Table) IDs() []int {
	ids := make([]int, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Totals sums population, employment and acres across all zones.
func (t Table) Totals() Record {
	var sum Record
	for _, r := range t {
		sum.Pop += r.Pop
		sum.Emp += r.Emp
		sum.Acres += r.Acres
	}
	return sum
}

// Load resolves src (path or URL) and parses it as a land-use table.
func Load(ctx context.Context, r *fetcher.Resolver, src string) (Table, error) {
	path, err := r.Resolve(ctx, src)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindExternalStore, src)
	}
	return ReadFile(ctx, path)
}

// ReadFile parses a .csv or .xlsx land-use table.
func ReadFile(ctx context.Context, path string) (Table, error) {
	headerCh := make(chan []string, 1)
	var rowCh <-chan []string
	var errCh <-chan error

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err := openFile(path)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindExternalStore, path)
		}
		defer f.Close() //nolint:errcheck
		rowCh, errCh = fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
			HasHeader:  true,
			HeaderCh:   headerCh,
			LazyQuotes: true,
			TrimSpace:  true,
			StripBOM:   true,
		})
	case ".xlsx":
		rowCh, errCh = fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{
			SkipRows: 1,
			HeaderCh: headerCh,
		})
	default:
		return nil, errs.New(errs.KindConfiguration, path, "landuse: unsupported file type %q", ext)
	}

	table, err := collect(path, headerCh, rowCh, errCh)
	if err != nil {
		return nil, err
	}

	totals := table.Totals()
	zap.L().Info("landuse: loaded table",
		zap.String("path", path),
		zap.Int("zones", len(table)),
		zap.Float64("pop", totals.Pop),
		zap.Float64("emp", totals.Emp),
		zap.Float64("acres", totals.Acres),
	)
	return table, nil
}

// collect consumes a header-first row stream into a Table. The header is
// guaranteed to be buffered before the first row arrives.
func collect(path string, headerCh <-chan []string, rowCh <-chan []string, errCh <-chan error) (Table, error) {
	table := make(Table)
	var colIdx map[string]int
	var parseErr error
	line := 1

	for record := range rowCh {
		line++
		if parseErr != nil {
			continue // drain
		}
		if colIdx == nil {
			colIdx, parseErr = mapColumns(path, <-headerCh)
			if parseErr != nil {
				continue
			}
		}
		rec, ok, err := parseRecord(record, colIdx)
		if err != nil {
			parseErr = errs.New(errs.KindConsistency, fmt.Sprintf("%s:%d", filepath.Base(path), line), "landuse: %v", err)
			continue
		}
		if !ok {
			continue
		}
		if _, dup := table[rec.ZoneID]; dup {
			parseErr = errs.New(errs.KindConsistency, fmt.Sprintf("zone %d", rec.ZoneID), "landuse: zone listed twice")
			continue
		}
		table[rec.ZoneID] = rec
	}
	if err := <-errCh; err != nil {
		return nil, errs.Wrap(eris.Wrapf(err, "landuse: read %s", path), errs.KindExternalStore, path)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	if colIdx == nil {
		select {
		case header := <-headerCh:
			if _, err := mapColumns(path, header); err != nil {
				return nil, err
			}
		default:
			return nil, errs.New(errs.KindConfiguration, path, "landuse: table has no header row")
		}
	}
	return table, nil
}

// mapColumns builds a case-insensitive column index and checks the
// required columns are present.
func mapColumns(path string, header []string) (map[string]int, error) {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[strings.ToLower(strings.Trim(strings.TrimSpace(col), `"`))] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := m[strings.ToLower(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.KindConfiguration, path,
			"landuse: missing required columns %s", strings.Join(missing, ", "))
	}
	return m, nil
}

// getCol returns the named field, or "" when the row is short.
func getCol(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[strings.ToLower(name)]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parseRecord converts one row. Blank rows report ok=false.
func parseRecord(record []string, colIdx map[string]int) (Record, bool, error) {
	zone := getCol(record, colIdx, ColZone)
	if zone == "" {
		return Record{}, false, nil
	}
	id, err := parseID(zone)
	if err != nil {
		return Record{}, false, eris.Wrapf(err, "zone id %q", zone)
	}
	rec := Record{ZoneID: id}
	for _, f := range []struct {
		col string
		dst *float64
	}{
		{ColPop, &rec.Pop},
		{ColEmp, &rec.Emp},
		{ColAcres, &rec.Acres},
	} {
		raw := getCol(record, colIdx, f.col)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Record{}, false, eris.Wrapf(err, "zone %d column %s", id, f.col)
		}
		*f.dst = v
	}
	return rec, true, nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "landuse: open %s", path)
	}
	return f, nil
}

// parseID accepts integer ids, including spreadsheet values like "101.0".
func parseID(s string) (int, error) {
	if id, err := strconv.Atoi(s); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, eris.Errorf("non-integer zone id %v", f)
	}
	return int(f), nil
}
