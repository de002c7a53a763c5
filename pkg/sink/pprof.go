package sink

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/pprof/profile"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/grafana/vmprof/pkg/symtab"
	"github.com/grafana/vmprof/pkg/traceback"
	"github.com/grafana/vmprof/pkg/vstack"
)

const (
	LabelThread    = "thread"
	LabelTimestamp = "timestamp_ns"
	LabelRSS       = "rss_bytes"
	LabelStatus    = "stack_status"

	defaultSymbolCacheSize = 4096
)

// Symbolizer resolves native addresses. symtab.SymbolTab implements it.
type Symbolizer interface {
	Resolve(addr uint64) symtab.Symbol
}

type PprofOptions struct {
	Period     time.Duration
	Symbols    Symbolizer
	CacheSize  int
	Memory     bool
	InterpName string
}

type locationKey struct {
	kind traceback.FrameKind
	addr uint64
	line int32
}

// PprofEncoder accumulates samples into a pprof profile, one pprof sample
// per captured sample.
type PprofEncoder struct {
	opts  PprofOptions
	cache *lru.Cache[uint64, symtab.Symbol]

	profile   *profile.Profile
	locations map[locationKey]*profile.Location
	functions map[string]*profile.Function
	mappings  map[string]*profile.Mapping
	virtual   map[vstack.FrameID]string

	locBuf []*profile.Location
}

func NewPprofEncoder(opts PprofOptions) (*PprofEncoder, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultSymbolCacheSize
	}
	cache, err := lru.New[uint64, symtab.Symbol](opts.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating symbol cache")
	}
	e := &PprofEncoder{
		opts:  opts,
		cache: cache,
	}
	e.reset()
	return e, nil
}

func (e *PprofEncoder) reset() {
	e.profile = &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     e.opts.Period.Nanoseconds(),
	}
	if e.opts.InterpName != "" {
		e.profile.Comments = []string{"interpreter: " + e.opts.InterpName}
	}
	e.locations = make(map[locationKey]*profile.Location)
	e.functions = make(map[string]*profile.Function)
	e.mappings = make(map[string]*profile.Mapping)
	if e.virtual == nil {
		e.virtual = make(map[vstack.FrameID]string)
	}
}

func (e *PprofEncoder) RegisterVirtualFunction(id vstack.FrameID, name string) error {
	if name == "" {
		return fmt.Errorf("empty name for virtual function %#x", uint64(id))
	}
	e.virtual[id] = name
	return nil
}

func (e *PprofEncoder) Encode(s *Sample) error {
	e.locBuf = e.locBuf[:0]
	for i := range s.Frames {
		e.locBuf = append(e.locBuf, e.location(&s.Frames[i]))
	}
	sample := &profile.Sample{
		Location: append([]*profile.Location(nil), e.locBuf...),
		Value:    []int64{1, e.opts.Period.Nanoseconds()},
		NumLabel: map[string][]int64{
			LabelThread:    {int64(s.Thread)},
			LabelTimestamp: {s.Time},
		},
		NumUnit: map[string][]string{
			LabelTimestamp: {"nanoseconds"},
		},
	}
	if e.opts.Memory {
		sample.NumLabel[LabelRSS] = []int64{int64(s.RSS)}
		sample.NumUnit[LabelRSS] = []string{"bytes"}
	}
	if s.Status != traceback.StackStatusComplete {
		sample.Label = map[string][]string{LabelStatus: {s.Status.String()}}
	}
	e.profile.Sample = append(e.profile.Sample, sample)

	start, end := e.profile.TimeNanos, e.profile.TimeNanos+e.profile.DurationNanos
	if len(e.profile.Sample) == 1 {
		start, end = s.Time, s.Time
	}
	start, end = min(start, s.Time), max(end, s.Time)
	e.profile.TimeNanos, e.profile.DurationNanos = start, end-start
	return nil
}

func (e *PprofEncoder) location(f *traceback.Frame) *profile.Location {
	key := locationKey{kind: f.Kind, addr: f.Addr, line: f.Line}
	if loc, ok := e.locations[key]; ok {
		return loc
	}
	loc := &profile.Location{ID: uint64(len(e.profile.Location) + 1)}
	switch f.Kind {
	case traceback.FrameVirtual:
		name, file, startLine := e.virtualName(vstack.FrameID(f.Addr))
		fn := e.function(name, file, startLine)
		loc.Line = []profile.Line{{Function: fn, Line: int64(f.Line)}}
	default:
		sym := e.symbolize(f.Addr)
		loc.Address = f.Addr
		name := sym.Name
		if name == "" {
			name = fmt.Sprintf("0x%x", f.Addr)
		}
		loc.Line = []profile.Line{{Function: e.function(name, "", 0)}}
		if sym.Module != "" {
			loc.Mapping = e.mapping(sym.Module)
		}
	}
	e.locations[key] = loc
	e.profile.Location = append(e.profile.Location, loc)
	return loc
}

func (e *PprofEncoder) symbolize(addr uint64) symtab.Symbol {
	if e.opts.Symbols == nil {
		return symtab.Symbol{}
	}
	if sym, ok := e.cache.Get(addr); ok {
		return sym
	}
	sym := e.opts.Symbols.Resolve(addr)
	e.cache.Add(addr, sym)
	return sym
}

// virtualName splits names registered as kind:name:line:file.
func (e *PprofEncoder) virtualName(id vstack.FrameID) (name, file string, line int64) {
	full, ok := e.virtual[id]
	if !ok {
		return fmt.Sprintf("<virtual 0x%x>", uint64(id)), "", 0
	}
	parts := strings.SplitN(full, ":", 4)
	if len(parts) != 4 {
		return full, "", 0
	}
	line, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return full, "", 0
	}
	return parts[1], parts[3], line
}

func (e *PprofEncoder) function(name, file string, startLine int64) *profile.Function {
	key := name + "\x00" + file
	if fn, ok := e.functions[key]; ok {
		return fn
	}
	fn := &profile.Function{
		ID:         uint64(len(e.profile.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   file,
		StartLine:  startLine,
	}
	e.functions[key] = fn
	e.profile.Function = append(e.profile.Function, fn)
	return fn
}

func (e *PprofEncoder) mapping(module string) *profile.Mapping {
	if m, ok := e.mappings[module]; ok {
		return m
	}
	m := &profile.Mapping{
		ID:           uint64(len(e.profile.Mapping) + 1),
		File:         module,
		HasFunctions: true,
	}
	e.mappings[module] = m
	e.profile.Mapping = append(e.profile.Mapping, m)
	return m
}

// Profile returns a copy of the accumulated profile.
func (e *PprofEncoder) Profile() *profile.Profile {
	return e.profile.Copy()
}

func (e *PprofEncoder) Len() int {
	return len(e.profile.Sample)
}

// WriteTo writes the gzipped profile.
func (e *PprofEncoder) WriteTo(w io.Writer) (int64, error) {
	var raw bytes.Buffer
	if err := e.profile.WriteUncompressed(&raw); err != nil {
		return 0, errors.Wrap(err, "encoding profile")
	}
	cw := &countingWriter{w: w}
	gw := gzip.NewWriter(cw)
	if _, err := gw.Write(raw.Bytes()); err != nil {
		return cw.n, errors.Wrap(err, "gzip write")
	}
	if err := gw.Close(); err != nil {
		return cw.n, errors.Wrap(err, "gzip close")
	}
	return cw.n, nil
}

func (e *PprofEncoder) Flush() error { return nil }

func (e *PprofEncoder) Close() error { return nil }

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ReadProfile parses a gzipped or raw pprof profile.
func ReadProfile(r io.Reader) (*profile.Profile, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "reading profile")
	}
	var src io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "gzip reader")
		}
		defer gr.Close()
		src = gr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.Wrap(err, "reading profile")
	}
	p, err := profile.ParseUncompressed(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing profile")
	}
	return p, nil
}
