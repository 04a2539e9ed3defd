package db

// RowVerdict is the decode strategy's judgement on a single raw row.
type RowVerdict int

const (
	// RowKeep includes the decoded item in the page.
	RowKeep RowVerdict = iota
	// RowSkip filters the row out. Skipped rows do not count toward the
	// offset and are not reported.
	RowSkip
	// RowDrop marks a row that could not be decoded. Dropped rows are
	// reported to the caller so short pages can be explained.
	RowDrop
)

// PageParams bounds a single page collection.
type PageParams struct {
	// Limit is the page size.
	Limit int
	// Offset is the number of kept rows to discard before collecting.
	// Callers zero it when a cursor already positions the scan.
	Offset int
	// ScanCap, when positive, switches the collector into scan-cap mode:
	// every raw row counts against the cap before decoding and the scan
	// stops, marked truncated, once the cap is exceeded. Offset and Limit
	// are not applied in this mode; callers bound their own collection.
	ScanCap int
}

// PageResult is one collected page.
type PageResult[T any] struct {
	Items       []T
	HasMore     bool
	Truncated   bool
	DroppedRows int
}

// CollectPage drains rows from next and decodes them with the supplied
// strategy until the page is satisfied or the stream ends.
//
// In the default over-fetch mode it skips Offset kept rows, then collects up
// to Limit+1 items so HasMore can be derived without a second query, and
// truncates the extra item before returning.
func CollectPage[R, T any](next func() (R, bool), decode func(R) (T, RowVerdict), p PageParams) PageResult[T] {
	var res PageResult[T]
	skipped := 0
	scanned := 0
	for {
		raw, ok := next()
		if !ok {
			break
		}
		if p.ScanCap > 0 {
			scanned++
			if scanned > p.ScanCap {
				res.Truncated = true
				break
			}
		}
		item, verdict := decode(raw)
		if verdict == RowDrop {
			res.DroppedRows++
			continue
		}
		if verdict == RowSkip {
			continue
		}
		if p.ScanCap > 0 {
			res.Items = append(res.Items, item)
			continue
		}
		if skipped < p.Offset {
			skipped++
			continue
		}
		res.Items = append(res.Items, item)
		if len(res.Items) > p.Limit {
			break
		}
	}
	if p.ScanCap == 0 && len(res.Items) > p.Limit {
		res.HasMore = true
		res.Items = res.Items[:p.Limit]
	}
	return res
}

// sliceRows adapts an in-memory slice to the collector's pull interface.
// Handy for tests and for post-processing already-materialized rows.
func sliceRows[R any](rows []R) func() (R, bool) {
	i := 0
	return func() (R, bool) {
		if i >= len(rows) {
			var zero R
			return zero, false
		}
		r := rows[i]
		i++
		return r, true
	}
}
