package sink

import (
	"errors"
	"fmt"

	"github.com/grafana/vmprof/pkg/traceback"
)

const (
	recordMarker     = 0x01
	recordHeaderSize = 4
)

var ErrMalformedRecord = errors.New("malformed sample record")

// EncodeRecord writes s into dst and returns the number of words used, or 0
// when dst cannot hold the header. Frames that do not fit are dropped and
// the record is marked truncated.
//
// Layout: marker|status<<8|nframes<<16, time, thread, rss, then two words
// per frame: kind|line<<32 and addr.
func EncodeRecord(dst []uint64, s *Sample) int {
	if len(dst) < recordHeaderSize {
		return 0
	}
	n := len(s.Frames)
	status := s.Status
	if limit := (len(dst) - recordHeaderSize) / 2; n > limit {
		n = limit
		status = traceback.StackStatusTruncated
	}
	dst[0] = recordMarker | uint64(status)<<8 | uint64(n)<<16
	dst[1] = uint64(s.Time)
	dst[2] = s.Thread
	dst[3] = s.RSS
	w := dst[recordHeaderSize:]
	for i := 0; i < n; i++ {
		f := &s.Frames[i]
		w[2*i] = uint64(f.Kind) | uint64(uint32(f.Line))<<32
		w[2*i+1] = f.Addr
	}
	return traceback.EstimateSlots(n)
}

// DecodeRecord reads a record into s, reusing the capacity of s.Frames.
func DecodeRecord(src []uint64, s *Sample) error {
	if len(src) < recordHeaderSize {
		return fmt.Errorf("%w: %d words", ErrMalformedRecord, len(src))
	}
	h := src[0]
	if h&0xff != recordMarker {
		return fmt.Errorf("%w: bad marker %#x", ErrMalformedRecord, h&0xff)
	}
	n := int(h >> 16)
	if n < 0 || len(src) < traceback.EstimateSlots(n) {
		return fmt.Errorf("%w: %d frames in %d words", ErrMalformedRecord, n, len(src))
	}
	s.Status = traceback.StackStatus(h >> 8 & 0xff)
	s.Time = int64(src[1])
	s.Thread = src[2]
	s.RSS = src[3]
	s.Frames = s.Frames[:0]
	r := src[recordHeaderSize:]
	for i := 0; i < n; i++ {
		kind := traceback.FrameKind(r[2*i] & 0xff)
		if kind != traceback.FrameNative && kind != traceback.FrameVirtual {
			return fmt.Errorf("%w: frame %d has kind %d", ErrMalformedRecord, i, kind)
		}
		s.Frames = append(s.Frames, traceback.Frame{
			Kind: kind,
			Addr: r[2*i+1],
			Line: int32(uint32(r[2*i] >> 32)),
		})
	}
	return nil
}
