// Package stats records per-frame performance measurements and exposes
// session counters to the monitor server.
package stats

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/vidrx/vidrx/internal/reassembly"
)

const perfHeader = "frame_id,frame_type,size_bytes,frag_count,completion_time_us\n"

// PerfLogger writes one CSV line per completed frame, matching the output
// consumed by the offline analysis scripts.
type PerfLogger struct {
	w      *bufio.Writer
	closer io.Closer
	clock  clock.PassiveClock
}

// NewPerfLogger creates a performance logger writing to the given path.
func NewPerfLogger(path string) (*PerfLogger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create performance log %s", path)
	}
	return newPerfLogger(f, f, clock.RealClock{})
}

func newPerfLogger(w io.Writer, closer io.Closer, c clock.PassiveClock) (*PerfLogger, error) {
	l := &PerfLogger{
		w:      bufio.NewWriter(w),
		closer: closer,
		clock:  c,
	}
	if _, err := l.w.WriteString(perfHeader); err != nil {
		return nil, errors.Wrap(err, "failed to write performance log header")
	}
	return l, nil
}

// Record appends one line for a completed frame.
func (l *PerfLogger) Record(frame *reassembly.Frame) error {
	frameType := "delta"
	if frame.IsKey() {
		frameType = "key"
	}

	_, err := fmt.Fprintf(l.w, "%d,%s,%d,%d,%d\n",
		frame.FrameID, frameType, len(frame.Data), frame.FragCount,
		l.clock.Now().UnixMicro())
	return err
}

// Close flushes buffered lines and closes the underlying file.
func (l *PerfLogger) Close() error {
	if err := l.w.Flush(); err != nil {
		return err
	}
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
