package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// utf8BOM is the byte-order mark spreadsheet exports put before the header.
const utf8BOM = "\ufeff"

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // first row goes to HeaderCh, not the row channel
	HeaderCh   chan<- []string // optional
	Comment    rune            // 0 = none
	LazyQuotes bool
	TrimSpace  bool // trims both ends of every field
	StripBOM   bool // drops a leading UTF-8 byte-order mark
}

// StreamCSV reads CSV rows and sends them to a channel. The header, when
// requested, is sent on HeaderCh before any row is sent. Errors are sent on
// the error channel. Both returned channels are closed when processing ends.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rows := make(chan []string, 64)
	errc := make(chan error, 1)

	s := &csvStream{opts: opts, rows: rows}
	go func() {
		defer close(rows)
		defer close(errc)
		if err := s.run(ctx, r); err != nil {
			errc <- err
		}
	}()
	return rows, errc
}

type csvStream struct {
	opts CSVOptions
	rows chan<- []string
}

func (s *csvStream) newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	if s.opts.Delimiter != 0 {
		cr.Comma = s.opts.Delimiter
	}
	cr.Comment = s.opts.Comment
	cr.LazyQuotes = s.opts.LazyQuotes
	cr.TrimLeadingSpace = s.opts.TrimSpace
	cr.FieldsPerRecord = -1
	return cr
}

func (s *csvStream) run(ctx context.Context, r io.Reader) error {
	cr := s.newReader(r)
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}
		s.clean(record, n == 0)

		if n == 0 && s.opts.HasHeader {
			if s.opts.HeaderCh == nil {
				continue
			}
			if err := send(ctx, s.opts.HeaderCh, record); err != nil {
				return eris.Wrap(err, "csv: context cancelled sending header")
			}
			continue
		}
		if err := send(ctx, s.rows, record); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}
	}
}

// clean applies the BOM and whitespace options to record in place.
func (s *csvStream) clean(record []string, first bool) {
	if first && s.opts.StripBOM && len(record) > 0 {
		record[0] = strings.TrimPrefix(record[0], utf8BOM)
	}
	if s.opts.TrimSpace {
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
