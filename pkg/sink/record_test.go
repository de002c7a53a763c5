package sink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/vmprof/pkg/traceback"
)

func testSample() *Sample {
	return &Sample{
		Time:   1700000000123456789,
		Thread: 42,
		RSS:    64 << 20,
		Status: traceback.StackStatusComplete,
		Frames: []traceback.Frame{
			{Kind: traceback.FrameNative, Addr: 0x401000},
			{Kind: traceback.FrameNative, Addr: 0x402020},
			{Kind: traceback.FrameVirtual, Addr: 0xc, Line: 17},
			{Kind: traceback.FrameVirtual, Addr: 0xb, Line: -1},
		},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := testSample()
	buf := make([]uint64, traceback.EstimateSlots(len(s.Frames)))
	n := EncodeRecord(buf, s)
	require.Equal(t, len(buf), n)

	var got Sample
	require.NoError(t, DecodeRecord(buf[:n], &got))
	require.Equal(t, *s, got)
}

func TestRecordTruncated(t *testing.T) {
	s := testSample()
	buf := make([]uint64, traceback.EstimateSlots(2)+1)
	n := EncodeRecord(buf, s)
	require.Equal(t, traceback.EstimateSlots(2), n)

	var got Sample
	require.NoError(t, DecodeRecord(buf[:n], &got))
	require.Equal(t, traceback.StackStatusTruncated, got.Status)
	require.Equal(t, s.Frames[:2], got.Frames)

	require.Equal(t, 0, EncodeRecord(make([]uint64, 3), s))
}

func TestDecodeReusesFrames(t *testing.T) {
	s := testSample()
	buf := make([]uint64, 64)
	n := EncodeRecord(buf, s)

	got := Sample{Frames: make([]traceback.Frame, 0, 16)}
	allocs := testing.AllocsPerRun(100, func() {
		_ = DecodeRecord(buf[:n], &got)
	})
	require.Zero(t, allocs)
}

func TestDecodeMalformed(t *testing.T) {
	s := testSample()
	buf := make([]uint64, 64)
	n := EncodeRecord(buf, s)

	testcases := []struct {
		name   string
		record []uint64
	}{
		{"short", buf[:3]},
		{"bad marker", append([]uint64{buf[0] &^ 0xff}, buf[1:n]...)},
		{"missing frames", buf[:n-2]},
		{"bad kind", func() []uint64 {
			r := append([]uint64(nil), buf[:n]...)
			r[4] = 0x7
			return r
		}()},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			var got Sample
			require.ErrorIs(t, DecodeRecord(tc.record, &got), ErrMalformedRecord)
		})
	}
}
