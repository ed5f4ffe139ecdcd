package storage

import (
	"bufio"
	"errors"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"
)

const progressInterval = 50 * time.Millisecond

// progressThrottle rate-limits progress callbacks. The final (total, total)
// report is always delivered exactly once.
type progressThrottle struct {
	fn    ProgressFunc
	every rate.Sometimes
	last  int64
	final bool
}

func newProgressThrottle(fn ProgressFunc) *progressThrottle {
	return &progressThrottle{
		fn:    fn,
		every: rate.Sometimes{First: 1, Interval: progressInterval},
	}
}

func (p *progressThrottle) report(sent, total int64) {
	if p == nil || p.fn == nil || p.final {
		return
	}
	if total > 0 && sent >= total {
		p.done(total)
		return
	}
	p.every.Do(func() {
		if sent > p.last {
			p.last = sent
			p.fn(sent, total)
		}
	})
}

func (p *progressThrottle) done(total int64) {
	if p == nil || p.fn == nil || p.final {
		return
	}
	p.final = true
	p.last = total
	p.fn(total, total)
}

// progressReader wraps an io.Reader to report read progress. It is seekable
// when the underlying reader is, so SDKs can rewind it on retry.
type progressReader struct {
	reader   io.Reader
	total    int64
	read     int64
	throttle *progressThrottle
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{reader: r, total: total, throttle: newProgressThrottle(fn)}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.throttle.report(pr.read, pr.total)
	}
	return n, err
}

func (pr *progressReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := pr.reader.(io.Seeker)
	if !ok {
		return 0, errors.New("progress reader: underlying reader is not seekable")
	}
	pos, err := s.Seek(offset, whence)
	if err == nil {
		pr.read = pos
	}
	return pos, err
}

// complete delivers the final progress callback.
func (pr *progressReader) complete() {
	pr.throttle.done(pr.total)
}

const sniffLen = 3072

// sniffContentType detects the content type of r from its first bytes and
// returns a reader yielding the full stream. Seekable readers are rewound
// and returned as is.
func sniffContentType(r io.Reader) (string, io.Reader, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(rs, head)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return "", nil, err
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return "", nil, err
		}
		return mimetype.Detect(head[:n]).String(), rs, nil
	}
	br := bufio.NewReaderSize(r, sniffLen)
	head, _ := br.Peek(sniffLen)
	return mimetype.Detect(head).String(), br, nil
}
