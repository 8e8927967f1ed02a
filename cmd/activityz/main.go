// Command activityz inspects and generates activity ids and runs a small
// traced workload that prints the collected records.
//
// Usage:
//
//	activityz parse [--state STATE] ID
//	activityz new [--format w3c|hierarchical] [--count N] [--recorded]
//	activityz demo [--config FILE] [--propagator legacy|w3c|none] [--depth N] [--metrics]
package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type command struct {
	name  string
	usage string
	run   func(args []string, stdout io.Writer, logger *zap.Logger) error
}

var commands = []command{
	{name: "parse", usage: "parse an activity id", run: runParse},
	{name: "new", usage: "generate activity ids", run: runNew},
	{name: "demo", usage: "run a traced workload and print its records", run: runDemo},
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		logger := newLogger(stderr)
		defer func() { _ = logger.Sync() }()

		if err := c.run(args[1:], stdout, logger); err != nil {
			fmt.Fprintf(stderr, "activityz %s: %v\n", c.name, err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stderr, "activityz: unknown command %q\n", args[0])
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: activityz <command> [flags]")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-6s %s\n", c.name, c.usage)
	}
}

// newLogger logs to stderr, at debug level when ACTIVITYZ_DEBUG is set.
func newLogger(w io.Writer) *zap.Logger {
	level := zapcore.WarnLevel
	if os.Getenv("ACTIVITYZ_DEBUG") != "" {
		level = zapcore.DebugLevel
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core)
}
