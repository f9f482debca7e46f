package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/novvoo/go-pdfcore/pkg/recovery"
)

var (
	workers   int
	timeout   time.Duration
	strict    bool
	printHelp bool
)

func init() {
	flag.IntVar(&workers, "j", 4, "number of files validated in parallel")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for the batch")
	flag.BoolVar(&strict, "strict", false, "treat warnings as failures")
	flag.BoolVar(&printHelp, "h", false, "print usage information")
	flag.BoolVar(&printHelp, "help", false, "print usage information")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: pdfcheck [options] <PDF-file>...\n\n")
	fmt.Fprintf(os.Stderr, "Validate PDF files and report structural problems.\n\n")
	flag.PrintDefaults()
}

type checkOutcome struct {
	filename string
	result   *recovery.ValidationResult
	err      error
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if printHelp || flag.NArg() == 0 {
		usage()
		if printHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	files := flag.Args()
	outcomes := make([]checkOutcome, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, filename := range files {
		i, filename := i, filename
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := recovery.ValidatePDF(filename)
			outcomes[i] = checkOutcome{filename: filename, result: result, err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "pdfcheck: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			fmt.Printf("%s: ERROR %v\n", o.filename, o.err)
			failed++
			continue
		}
		if reportOutcome(o) {
			failed++
		}
	}

	fmt.Printf("%d files checked, %d failed\n", len(outcomes), failed)
	if failed > 0 {
		os.Exit(2)
	}
}

// reportOutcome prints one file's result and reports whether it counts
// as a failure.
func reportOutcome(o checkOutcome) bool {
	r := o.result
	bad := !r.IsValid || (strict && len(r.Warnings) > 0)

	status := "OK"
	if bad {
		status = "FAIL"
	}
	fmt.Printf("%s: %s (%d/%d objects valid, %d pages)\n",
		o.filename, status,
		r.Stats.ValidObjects, r.Stats.ObjectsChecked, r.Stats.PagesValidated)

	for _, e := range r.Errors {
		fmt.Printf("  error: %s\n", e.Error())
	}
	for _, w := range r.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	return bad
}
