package stream

// Page is the outcome of deduplicating one response.
type Page struct {
	Records   []Record
	Watermark *Timestamp
	Terminal  bool
	Skipped   int
}

// Dedupe filters rows against the running watermark and decides whether
// paging must stop. Rows arrive in ascending time order; any row strictly
// older than the watermark was already emitted by an earlier page, because
// the lower query bound is inclusive and only second-precise. Rows equal to
// the watermark pass so that distinct same-second events are not dropped.
//
// A page that leaves the watermark where it started is terminal: the next
// window would be identical and paging would never end.
func Dedupe(watermark *Timestamp, rows []Row, normalize Normalizer) (Page, error) {
	if len(rows) == 0 {
		return Page{Watermark: watermark, Terminal: true}, nil
	}

	page := Page{Records: make([]Record, 0, len(rows))}
	current := watermark
	for _, row := range rows {
		ts := row.EventTime()
		if current != nil && ts.Before(*current) {
			page.Skipped++
			continue
		}

		rec, err := normalize.Normalize(row)
		if err != nil {
			return Page{}, &DecodeError{Path: TimestampField, Err: err}
		}
		page.Records = append(page.Records, rec)

		next := ts
		current = &next
	}

	page.Watermark = current
	page.Terminal = sameWatermark(watermark, current)
	return page, nil
}
