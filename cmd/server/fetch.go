package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hazyhaar/ripdb/pkg/aggregate"
	"github.com/hazyhaar/ripdb/pkg/images"
	"github.com/hazyhaar/ripdb/pkg/ingest"
	"github.com/hazyhaar/ripdb/pkg/source"
)

// fetchResult summarizes one source run through the ingestion pipeline.
type fetchResult struct {
	Source   string `json:"source"`
	Tier     string `json:"tier,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Records  int    `json:"records"`
	Rejected int    `json:"rejected"`
	Actors   int    `json:"actors"`
	Deaths   int    `json:"deaths"`
	Error    string `json:"error,omitempty"`
}

func cmdFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	only := fs.String("source", "", "fetch only this source id")
	asJSON := fs.Bool("json", false, "print results as JSON")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall deadline")
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}

	sources := cfg.Sources
	if *only != "" {
		sources = nil
		for _, s := range cfg.Sources {
			if s.ID == *only {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("unknown source %q", *only)
		}
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("source registry: %w", err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fetcher := source.NewFetcher(cfg.fetchOptions(), &http.Client{}, source.NewChecker(nil, logger, 0), logger)
	results := make([]fetchResult, 0, len(sources))
	okCount := 0
	for _, src := range sources {
		if u, err := reg.GetURL(src.ID); err == nil && u != "" {
			src.URL = u
		}
		r := runSource(ctx, fetcher, src, cfg.RejectLogLimit, logger)
		if r.Error == "" {
			okCount++
		}
		var fetchErr error
		if r.Error != "" {
			fetchErr = errors.New(r.Error)
		}
		if err := reg.RecordFetch(src.ID, source.Tier(r.Tier), r.Records, fetchErr); err != nil {
			logger.Warn("registry update failed", "source", src.ID, "error", err)
		}
		results = append(results, r)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printFetchResults(os.Stdout, results)
	}
	if okCount == 0 {
		return errors.New("no source yielded records")
	}
	return nil
}

func runSource(ctx context.Context, fetcher *source.Fetcher, src source.Source, rejectLimit int, logger *slog.Logger) fetchResult {
	r := fetchResult{Source: src.ID}
	p, err := fetcher.Fetch(ctx, src)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Tier, r.Attempts = string(p.Tier), p.Attempts

	res, err := ingest.Records(p.Table(), ingest.Options{
		Columns:        src.Columns,
		RejectLogLimit: rejectLimit,
		Logger:         logger.With("source", src.ID),
	})
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Records, r.Rejected = len(res.Records), res.Rejected
	if r.Records == 0 {
		r.Error = "no records"
		return r
	}

	ds := aggregate.Aggregate(res.Records, images.Placeholder)
	r.Actors, r.Deaths = ds.Len(), ds.Stats.TotalDeaths
	return r
}

func printFetchResults(w io.Writer, results []fetchResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTIER\tATTEMPTS\tRECORDS\tREJECTED\tACTORS\tDEATHS\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Source, orDash(r.Tier), r.Attempts, r.Records, r.Rejected, r.Actors, r.Deaths, r.Error)
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
