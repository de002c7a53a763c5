package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/pprof/profile"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/vmprof/pkg/sink"
)

type inspectParams struct {
	path   string
	limit  int
	frames int
}

func addInspectParams(cmd *kingpin.CmdClause) *inspectParams {
	params := &inspectParams{}
	cmd.Arg("file", "pprof file path").Required().StringVar(&params.path)
	cmd.Flag("limit", "Maximum number of samples to print, 0 prints all.").Default("20").IntVar(&params.limit)
	cmd.Flag("frames", "Maximum number of frames printed per sample, innermost first.").Default("8").IntVar(&params.frames)
	return params
}

func inspect(out io.Writer, params *inspectParams) error {
	f, err := os.Open(params.path)
	if err != nil {
		return err
	}
	defer f.Close()
	p, err := sink.ReadProfile(f)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Samples: ", len(p.Sample))
	fmt.Fprintln(out, "Period:  ", time.Duration(p.Period))
	fmt.Fprintln(out, "Duration:", time.Duration(p.DurationNanos))
	for _, c := range p.Comments {
		fmt.Fprintln(out, "Comment: ", c)
	}

	samples := p.Sample
	if params.limit > 0 && len(samples) > params.limit {
		samples = samples[:params.limit]
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Time", "Thread", "RSS", "Status", "Depth", "Stack"})
	table.SetAutoWrapText(false)
	for _, s := range samples {
		table.Append(sampleRow(s, params.frames))
	}
	table.Render()
	return nil
}

func sampleRow(s *profile.Sample, maxFrames int) []string {
	ts := time.Unix(0, numLabel(s, sink.LabelTimestamp)).UTC().Format(time.RFC3339Nano)
	rss := "-"
	if v, ok := s.NumLabel[sink.LabelRSS]; ok && len(v) > 0 {
		rss = humanize.Bytes(uint64(v[0]))
	}
	status := "complete"
	if v := s.Label[sink.LabelStatus]; len(v) > 0 {
		status = strings.TrimPrefix(v[0], "StackStatus")
	}
	names := lo.Map(s.Location, func(loc *profile.Location, _ int) string {
		return locationName(loc)
	})
	if maxFrames > 0 && len(names) > maxFrames {
		names = append(names[:maxFrames], "...")
	}
	return []string{
		ts,
		strconv.FormatInt(numLabel(s, sink.LabelThread), 10),
		rss,
		status,
		strconv.Itoa(len(s.Location)),
		strings.Join(names, " < "),
	}
}

func locationName(loc *profile.Location) string {
	if len(loc.Line) == 0 || loc.Line[0].Function == nil {
		return fmt.Sprintf("0x%x", loc.Address)
	}
	l := loc.Line[0]
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.Function.Name, l.Line)
	}
	return l.Function.Name
}

func numLabel(s *profile.Sample, key string) int64 {
	if v := s.NumLabel[key]; len(v) > 0 {
		return v[0]
	}
	return 0
}
