package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/novvoo/go-pdfcore/pkg/logger"
	"github.com/novvoo/go-pdfcore/pkg/recovery"
)

var (
	detectOnly  bool
	aggressive  bool
	maxErrors   int
	memoryLimit int64
	verbose     bool
	quiet       bool
	printHelp   bool
)

func init() {
	flag.BoolVar(&detectOnly, "detect", false, "only detect and report corruption, don't repair")
	flag.BoolVar(&aggressive, "aggressive", false, "enable aggressive recovery heuristics")
	flag.IntVar(&maxErrors, "max-errors", 100, "abort after this many per-object failures")
	flag.Int64Var(&memoryLimit, "memory-limit", 500*1024*1024, "memory limit in bytes for recovery buffers")
	flag.BoolVar(&verbose, "verbose", false, "print debug logging")
	flag.BoolVar(&quiet, "q", false, "don't print warnings")
	flag.BoolVar(&printHelp, "h", false, "print usage information")
	flag.BoolVar(&printHelp, "help", false, "print usage information")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: pdfrepair [options] <PDF-file>\n\n")
	fmt.Fprintf(os.Stderr, "Detect corruption in a PDF file and attempt recovery.\n\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if printHelp || flag.NArg() != 1 {
		usage()
		if printHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	filename := flag.Arg(0)

	if verbose {
		logger.SetLogger(func(level logger.LogLevel, msg string, keyvals ...interface{}) {
			fmt.Fprintf(os.Stderr, "[%s] %s %v\n", level, msg, keyvals)
		})
	}

	report, err := recovery.DetectCorruption(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfrepair: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: severity %d", filename, report.Severity)
	if report.IsValid() {
		fmt.Println(" (clean)")
	} else {
		fmt.Println()
		for _, e := range report.Errors {
			fmt.Printf("  %s\n", e.Error())
		}
	}
	fmt.Printf("  size %d bytes, ~%d objects, %d page markers, %d xref sections\n",
		report.FileStats.FileSize, report.FileStats.EstimatedObjects,
		report.FileStats.FoundPages, report.FileStats.XRefSections)

	if detectOnly {
		if !report.IsValid() {
			os.Exit(2)
		}
		return
	}

	options := recovery.DefaultOptions()
	options.AggressiveRecovery = aggressive
	options.MaxErrors = maxErrors
	options.MemoryLimit = memoryLimit

	recoverer, err := recovery.NewRecoverer(options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfrepair: %v\n", err)
		os.Exit(1)
	}

	doc, err := recoverer.RecoverDocument(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfrepair: recovery failed: %v\n", err)

		data, readErr := os.ReadFile(filename)
		if readErr == nil {
			if partial, perr := recoverer.RecoverPartial(data); perr == nil {
				fmt.Printf("partial recovery: %d/%d objects, %d pages\n",
					partial.RecoveredObjects, partial.TotalObjects, partial.RecoveredPages)
				printWarnings(partial.Warnings)
			}
		}
		os.Exit(2)
	}

	fmt.Printf("recovered document: version %s, %d objects, %d pages\n",
		doc.Version, doc.XRef().Len(), doc.NumPages())
	printWarnings(recoverer.Warnings())
}

func printWarnings(warnings []string) {
	if quiet {
		return
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}
