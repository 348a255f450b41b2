// Package sensor reads accelerometer samples for the gesture detector.
//
// Line format, one sample per line:
//
//	<ms> <ax> <ay> <az>
//
// Fields may be separated by whitespace or commas. Blank lines and lines
// starting with # are skipped.
package sensor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"go.bug.st/serial"

	"go-maestro/debug"
	"go-maestro/gesture"
)

// DefaultBaud is the usual rate for microcontroller sensor bridges.
const DefaultBaud = 115200

// LineSource parses samples from a text stream.
type LineSource struct {
	r    io.Reader
	name string

	// Epoch is the time of the first sample; later stamps are offsets from
	// the first line's milliseconds, so a device clock that was already
	// running lands on the host time base.
	Epoch time.Time
	// Pace sleeps until each sample's time (file replay).
	Pace bool

	now func() time.Time
}

// NewLineSource reads from r. The epoch defaults to the time Run starts.
func NewLineSource(name string, r io.Reader) *LineSource {
	return &LineSource{r: r, name: name, now: time.Now}
}

// OpenFile replays a recorded sample file in real time.
func OpenFile(path string) (*LineSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(err,
			ftag.With(ftag.NotFound),
			fmsg.WithDesc("open sensor file", "Could not open sensor recording "+path))
	}
	src := NewLineSource(path, f)
	src.Pace = true
	return src, nil
}

// OpenSerial reads live samples from a serial device.
func OpenSerial(device string, baud int) (*LineSource, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fault.Wrap(err,
			ftag.With(ftag.NotFound),
			fmsg.WithDesc("open sensor port", "Could not open sensor on "+device))
	}
	return NewLineSource(device, p), nil
}

// Name identifies the source for status display.
func (s *LineSource) Name() string { return s.name }

// Run calls fn for every sample until EOF or ctx is done. EOF is not an
// error; malformed lines are logged and skipped.
func (s *LineSource) Run(ctx context.Context, fn func(gesture.Sample)) error {
	if s.Epoch.IsZero() {
		s.Epoch = s.now()
	}
	if c, ok := s.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
		defer c.Close()
	}

	sc := bufio.NewScanner(s.r)
	lineNo := 0
	var (
		first    time.Duration
		hasFirst bool
	)
	for sc.Scan() {
		lineNo++
		if ctx.Err() != nil {
			return nil
		}
		sample, ok, err := ParseLine(sc.Text())
		if err != nil {
			debug.LogEvery(20, "sensor", "%s:%d: %v", s.name, lineNo, err)
			continue
		}
		if !ok {
			continue
		}
		offset := sample.At.Sub(time.Time{})
		if !hasFirst {
			first, hasFirst = offset, true
		}
		if offset < first {
			// device counter restarted mid-stream
			debug.Log("sensor", "%s:%d: clock went back %v, rebasing", s.name, lineNo, first-offset)
			s.Epoch = s.now()
			first = offset
		}
		sample.At = s.Epoch.Add(offset - first)
		if s.Pace {
			if wait := time.Until(sample.At); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
		}
		fn(sample)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
		return fault.Wrap(err, fmsg.With("read sensor "+s.name))
	}
	debug.Log("sensor", "%s: end of stream after %d lines", s.name, lineNo)
	return nil
}

// ParseLine parses one line. ok is false for blank and comment lines. The
// sample time is the zero time plus the line's milliseconds.
func ParseLine(line string) (sample gesture.Sample, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return gesture.Sample{}, false, nil
	}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	if len(fields) != 4 {
		return gesture.Sample{}, false, fault.New("want 4 fields, got "+strconv.Itoa(len(fields)), ftag.With(ftag.InvalidArgument))
	}
	var v [4]float64
	for i, f := range fields {
		v[i], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return gesture.Sample{}, false, fault.Wrap(err, ftag.With(ftag.InvalidArgument))
		}
	}
	if v[0] < 0 {
		return gesture.Sample{}, false, fault.New("negative timestamp", ftag.With(ftag.InvalidArgument))
	}
	return gesture.Sample{
		At: time.Time{}.Add(time.Duration(v[0] * float64(time.Millisecond))),
		X:  v[1],
		Y:  v[2],
		Z:  v[3],
	}, true, nil
}
