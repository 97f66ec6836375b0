// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// mpqx inspects and extracts MPQ archives, local or served over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	mpq "github.com/suprsokr/mpqx"
	"github.com/suprsokr/mpqx/rangeio"
	"github.com/suprsokr/mpqx/worker"
)

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func main() {
	verbose := flag.Bool("v", false, "Log parser diagnostics to stderr")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-v] <command> [options] <archive> ...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  info     Show header and table information\n")
		fmt.Fprintf(os.Stderr, "  list     List the files named by the listfile\n")
		fmt.Fprintf(os.Stderr, "  extract  Extract named files\n")
		fmt.Fprintf(os.Stderr, "  stream   Extract files matching globs in one pass (paths or http URLs)\n")
		fmt.Fprintf(os.Stderr, "  batch    Extract files matching globs from many archives concurrently\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s info Chapter1.w3x\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s extract -o out Chapter1.w3x war3map.j\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s stream -glob '*.j' -glob '*.w3i' https://example.com/map.w3x\n", os.Args[0])
	}
	flag.Parse()

	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "info":
		err = runInfo(ctx, args)
	case "list":
		err = runList(ctx, args)
	case "extract":
		err = runExtract(ctx, args)
	case "stream":
		err = runStream(ctx, args)
	case "batch":
		err = runBatch(ctx, args)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		if errors.Is(err, mpq.ErrAborted) {
			log.Fatalf("%s: interrupted", cmd)
		}
		log.Fatalf("%s: %v", cmd, err)
	}
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// openSource opens a local path through mmap or a URL through HTTP range
// requests.
func openSource(ctx context.Context, src string) (rangeio.Reader, func() error, error) {
	if isURL(src) {
		r, err := rangeio.NewHTTP(ctx, http.DefaultClient, src)
		if err != nil {
			return nil, nil, err
		}
		return r, func() error { return nil }, nil
	}
	f, err := rangeio.OpenFile(src)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func openArchive(ctx context.Context, src string) (*mpq.Archive, error) {
	if !isURL(src) {
		return mpq.Open(src, mpq.WithLogger(logger))
	}
	r, err := rangeio.NewHTTP(ctx, http.DefaultClient, src)
	if err != nil {
		return nil, err
	}
	archive, err := mpq.OpenReader(ctx, r, mpq.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return archive, nil
}

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: info <archive>")
	}

	archive, err := openArchive(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	h := archive.Header()
	fmt.Printf("Archive: %s\n", fs.Arg(0))
	fmt.Printf("Header offset: 0x%X\n", h.Offset)
	if h.UserDataOffset >= 0 {
		fmt.Printf("User data: %d bytes at 0x%X\n", h.UserDataSize, h.UserDataOffset)
	}
	fmt.Printf("Format version: %d\n", h.FormatVersion+1)
	fmt.Printf("Archive size: %d\n", h.ArchiveSize)
	fmt.Printf("Sector size: %d\n", h.SectorSize)
	fmt.Printf("Hash table: %d entries at 0x%X\n", h.HashTableSize, h.HashTableOffset)
	fmt.Printf("Block table: %d entries at 0x%X\n", h.BlockTableSize, h.BlockTableOffset)
	if h.HiBlockTableOffset != 0 {
		fmt.Printf("Hi-block table: 0x%X\n", h.HiBlockTableOffset)
	}

	if names, err := archive.Files(); err == nil {
		fmt.Printf("Listed files: %d of %d blocks\n", len(names), archive.BlockCount())
	} else {
		fmt.Printf("Listfile: %v\n", err)
	}
	if attrs, err := archive.Attributes(); err != nil {
		fmt.Printf("Attributes: %v\n", err)
	} else if attrs != nil {
		fmt.Printf("Attributes: version %d, flags 0x%X\n", attrs.Version, attrs.Flags)
	}
	if sig, err := archive.ReadSignature(); err != nil {
		fmt.Printf("Signature: %v\n", err)
	} else if sig != nil {
		fmt.Printf("Signature: weak=%t strong=%t\n", sig.Weak != nil, sig.Strong != nil)
	}
	return nil
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	all := fs.Bool("all", false, "Include listfile names the archive does not hold")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: list [-all] <archive>")
	}

	archive, err := openArchive(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	list := archive.Files
	if *all {
		list = archive.ListFiles
	}
	names, err := list()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(mpq.DisplayName(name))
	}
	return nil
}

func runExtract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	outDir := fs.String("o", ".", "Output directory")
	verify := fs.Bool("verify", false, "Check files against (attributes) before writing")
	fs.Parse(args)
	if fs.NArg() < 2 {
		return errors.New("usage: extract [-o dir] [-verify] <archive> <name>...")
	}

	archive, err := openArchive(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	failed := 0
	for _, name := range fs.Args()[1:] {
		if *verify {
			if err := archive.VerifyFile(ctx, name); err != nil {
				log.Printf("%s: %v", name, err)
				failed++
				continue
			}
		}
		dest, err := outputPath(*outDir, name)
		if err != nil {
			return err
		}
		if err := archive.ExtractTo(name, dest); err != nil {
			log.Printf("%s: %v", name, err)
			failed++
			continue
		}
		fmt.Println(dest)
	}
	if failed > 0 {
		return fmt.Errorf("%d files failed", failed)
	}
	return nil
}

func runStream(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	var globs stringList
	fs.Var(&globs, "glob", "Glob selecting files (repeatable)")
	outDir := fs.String("o", "", "Output directory; files are only listed when empty")
	chunk := fs.Int("chunk", mpq.DefaultReadSize, "Largest single read in bytes")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("usage: stream [-glob pattern]... [-o dir] <archive> [name]...")
	}
	if len(globs) == 0 && fs.NArg() == 1 {
		globs = append(globs, "*")
	}

	r, closeFn, err := openSource(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	start := time.Now()
	res, err := mpq.ParseStream(ctx, r, mpq.StreamOptions{
		Globs:     globs,
		Names:     fs.Args()[1:],
		ChunkSize: *chunk,
		Options:   []mpq.Option{mpq.WithLogger(logger)},
	})
	if err != nil {
		return err
	}
	defer res.Archive.Close()

	for _, f := range res.Files {
		if *outDir == "" {
			fmt.Printf("%10d  %s\n", f.Size, mpq.DisplayName(f.Name))
			continue
		}
		dest, err := outputPath(*outDir, f.Name)
		if err != nil {
			return err
		}
		if err := writeFile(dest, f.Data); err != nil {
			return err
		}
		fmt.Println(dest)
	}
	for _, fail := range res.Failures {
		log.Printf("%s: %v", mpq.DisplayName(fail.Name), fail)
	}
	for _, name := range res.Missing {
		log.Printf("%s: not found", mpq.DisplayName(name))
	}

	fmt.Fprintf(os.Stderr, "read %d of %d bytes (%.1f%%) in %d reads, %s\n",
		res.Stats.BytesRead, res.Stats.Size, percent(res.Stats.BytesRead, res.Stats.Size),
		res.Stats.Reads, time.Since(start).Round(time.Millisecond))
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	var globs stringList
	fs.Var(&globs, "glob", "Glob selecting files (repeatable)")
	outDir := fs.String("o", "", "Output directory; one subdirectory per archive")
	workers := fs.Int("workers", 4, "Archives processed concurrently")
	timeout := fs.Duration("timeout", time.Minute, "Per-archive time limit")
	fs.Parse(args)
	if fs.NArg() < 1 || len(globs) == 0 {
		return errors.New("usage: batch -glob pattern [-glob pattern]... [-o dir] <archive>...")
	}

	pool := worker.NewPool(worker.Config{
		Workers: *workers,
		Timeout: *timeout,
		Logger:  logger,
		Options: []mpq.Option{mpq.WithLogger(logger)},
	})
	defer pool.Close()

	type pending struct {
		path string
		done <-chan struct{}
		errs *int
	}
	var tasks []pending
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		format, err := worker.ParseFormat(filepath.Ext(path))
		if err != nil {
			format = worker.FormatMPQ
		}

		errs := new(int)
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		emit := func(r worker.Response) {
			switch v := r.(type) {
			case *worker.Success:
				if *outDir == "" {
					fmt.Printf("%s: %s (%d bytes, %s)\n", path, v.Name, len(v.Bytes), v.Source)
					return
				}
				dest, err := outputPath(filepath.Join(*outDir, base), v.Name)
				if err == nil {
					err = writeFile(dest, v.Bytes)
				}
				if err != nil {
					log.Printf("%s: %v", path, err)
					*errs++
				}
			case *worker.Failure:
				log.Printf("%s: %s %s", path, v.Name, v.Message)
				*errs++
			}
		}

		done, err := pool.Submit(ctx, worker.Task{
			ID:           path,
			ArchiveBytes: data,
			Globs:        globs,
			Format:       format,
		}, emit)
		if err != nil {
			return err
		}
		tasks = append(tasks, pending{path, done, errs})
	}

	failed := 0
	for _, t := range tasks {
		<-t.done
		failed += *t.errs
	}
	if failed > 0 {
		return fmt.Errorf("%d failures", failed)
	}
	return nil
}

// outputPath maps an archive name into dir, refusing names that escape it.
func outputPath(dir, name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	dest := filepath.Join(dir, rel)
	if r, err := filepath.Rel(dir, dest); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: path escapes output directory", name)
	}
	return dest, nil
}

func writeFile(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func percent(n, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}
