package main

import (
	"fmt"
	"os"

	"github.com/gridsight/gridsight/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "train":
		runTrain(os.Args[2:])
	case "run":
		runAnalyze(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Println(version.Info())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `GridSight smart-meter anomaly decision engine.

Usage:
  gridsight train -data <csv> [-model-out <path>]   train the outlier model
  gridsight run -data <csv> [-model <path>]         analyze a telemetry batch
  gridsight serve [-config <file>]                  run the dashboard API
  gridsight version                                 print version information

Run "gridsight <command> -h" for command flags.
`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
