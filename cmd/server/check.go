package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hazyhaar/ripdb/pkg/source"
)

func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	timeout := fs.Duration("timeout", 2*time.Minute, "overall deadline")
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("source registry: %w", err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ok, failed := source.NewChecker(reg, logger, 0).CheckAll(ctx)
	entries, err := reg.ListSources()
	if err != nil {
		return err
	}
	printEntries(os.Stdout, entries)
	fmt.Printf("\n%d reachable, %d failing\n", ok, failed)
	return nil
}

func printEntries(w io.Writer, entries []source.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tURL\tERROR")
	for _, e := range entries {
		status, errMsg := "-", ""
		if e.LastStatus != nil {
			status = fmt.Sprint(*e.LastStatus)
		}
		if e.LastError != nil {
			errMsg = *e.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Kind, status, e.URL, errMsg)
	}
	tw.Flush()
}
