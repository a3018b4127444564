package progress

import "io"

// Reader wraps an io.Reader and reports progress as a percentage in [0, 100].
// Reported values never decrease.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(written int64, percent float64)

	totalRead   int64
	lastBytes   int64
	lastPercent float64
	step        float64 // minimum percent delta between reports
	interval    int64   // bytes between reports when Total is unknown
}

// NewReader reports every step percent when total is known, every interval
// bytes otherwise.
func NewReader(r io.Reader, total int64, step float64, interval int64, cb func(written int64, percent float64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		OnProgress: cb,
		step:       step,
		interval:   interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n <= 0 || pr.OnProgress == nil {
		return n, err
	}

	pr.totalRead += int64(n)

	if pr.Total <= 0 {
		if pr.totalRead-pr.lastBytes >= pr.interval {
			pr.lastBytes = pr.totalRead
			pr.OnProgress(pr.totalRead, pr.lastPercent)
		}

		return n, err
	}

	percent := min(float64(pr.totalRead)*100/float64(pr.Total), 100)
	if percent-pr.lastPercent >= pr.step || (percent == 100 && pr.lastPercent < 100) {
		pr.lastPercent = percent
		pr.lastBytes = pr.totalRead
		pr.OnProgress(pr.totalRead, percent)
	}

	return n, err
}

// Written returns the number of bytes read so far.
func (pr *Reader) Written() int64 {
	return pr.totalRead
}
