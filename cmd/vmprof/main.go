package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/vmprof/pkg/util"
)

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Sampling profiler core for interpreters with a virtual frame stack.").UsageWriter(os.Stdout)
	app.Version(version.Print("vmprof"))
	app.HelpFlag.Short('h')
	logLevel := app.Flag("log.level", "Log level: debug, info, warn or error.").Default("info").String()

	simulateCmd := app.Command("simulate", "Profile a simulated interpreter and write a pprof file.")
	simulateParams := addSimulateParams(simulateCmd)

	inspectCmd := app.Command("inspect", "Print the samples of a pprof file written by vmprof.")
	inspectParams := addInspectParams(inspectCmd)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	logger = util.NewLogger(consoleOutput, *logLevel)

	ctx := context.Background()
	switch parsedCmd {
	case simulateCmd.FullCommand():
		os.Exit(checkError(simulate(ctx, simulateParams)))
	case inspectCmd.FullCommand():
		os.Exit(checkError(inspect(os.Stdout, inspectParams)))
	default:
		_ = level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
