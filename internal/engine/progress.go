package engine

import (
	"strconv"
	"strings"
	"time"
)

// progressParser turns ffmpeg "-progress pipe:1" key=value blocks into
// Progress callbacks. Each block ends with a progress=continue|end line.
type progressParser struct {
	duration time.Duration
	outTime  time.Duration
	emit     ProgressFunc
}

func (p *progressParser) line(raw string) {
	key, value, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		if us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && us >= 0 {
			p.outTime = time.Duration(us) * time.Microsecond
		}
	case "progress":
		if p.emit == nil {
			return
		}
		if strings.TrimSpace(value) == "end" {
			p.emit(Progress{Ratio: 1, Time: p.outTime})
			return
		}
		p.emit(Progress{Ratio: p.ratio(), Time: p.outTime})
	}
}

func (p *progressParser) ratio() float64 {
	if p.duration <= 0 {
		return 0
	}
	r := float64(p.outTime) / float64(p.duration)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(t.lines) == t.max {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.max-1]
	}
	t.lines = append(t.lines, line)
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, "\n")
}
