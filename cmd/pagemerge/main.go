// Command pagemerge merges PDF documents and PNG/JPEG images into one PDF.
//
//	pagemerge -out merged.pdf -pages 3,1-2 cover.png report.pdf
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/dgallion1/pagemerge/internal/config"
	"github.com/dgallion1/pagemerge/internal/export"
	"github.com/dgallion1/pagemerge/internal/geometry"
	"github.com/dgallion1/pagemerge/internal/pages"
	"github.com/dgallion1/pagemerge/internal/pdfout"
	"github.com/dgallion1/pagemerge/internal/selection"
	"github.com/dgallion1/pagemerge/internal/session"
	"github.com/dgallion1/pagemerge/internal/source"
)

func main() {
	out := flag.String("out", "", "Output file (default merged_<timestamp>.pdf)")
	pageList := flag.String("pages", "", `Pages to keep, in order, by 1-based position (e.g. "3,1-2")`)
	scale := flag.Float64("scale", 1, "Scale multiplier for image pages (0.1-4)")
	align := flag.String("align", "", "Align image pages: left, center, right, top, middle or bottom")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: pagemerge [-out file.pdf] [-pages 3,1-2] [-scale N] [-align dir] <file>...")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, options{
		out:   *out,
		pages: *pageList,
		scale: *scale,
		align: *align,
		files: flag.Args(),
	}); err != nil {
		log.Error("pagemerge failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	out   string
	pages string
	scale float64
	align string
	files []string
}

func run(ctx context.Context, log *slog.Logger, opts options) error {
	cfg := config.Load()
	deps := session.Deps{
		Documents: &source.PDFDecoder{PdftoppmPath: cfg.PdftoppmPath},
		Images:    source.StdImageDecoder{},
		Encoder:   pdfout.NewEncoder("pagemerge"),
	}
	sopts := session.OptionsFromConfig(cfg)
	sopts.LazyThumbnails = true
	s := session.New("cli", deps, sopts, log)
	defer s.Close()

	files := make([]session.File, 0, len(opts.files))
	for _, path := range opts.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, session.File{Name: filepath.Base(path), Data: data})
	}

	res, err := s.AddFiles(ctx, files)
	if err != nil {
		return err
	}
	for _, name := range res.Ignored {
		log.Warn("skipping unsupported file", "file", name)
	}
	for _, n := range s.DrainNotices() {
		log.Warn(n.Message, "kind", n.Kind, "file", n.File)
	}

	if opts.pages != "" {
		if err := selectPages(s, opts.pages); err != nil {
			return err
		}
	}
	if err := placeImages(s, opts.scale, opts.align); err != nil {
		return err
	}

	result, err := s.Export(ctx, nil)
	if err != nil {
		return err
	}
	path := opts.out
	if path == "" {
		path = export.Filename(time.Now())
	}
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d pages, %d rasterized)\n", path, result.Pages, len(result.Rasterized))
	return nil
}

// selectPages keeps only the listed positions, in the listed order.
func selectPages(s *session.Session, expr string) error {
	positions, err := selection.Parse(expr)
	if err != nil {
		return err
	}
	var current []int
	for _, p := range s.Pages() {
		current = append(current, p.ID)
	}
	keep, err := selection.Resolve(positions, current)
	if err != nil {
		return err
	}
	for _, id := range current {
		if !slices.Contains(keep, id) {
			s.RemovePage(id)
		}
	}
	s.Reorder(keep)
	return nil
}

func placeImages(s *session.Session, scale float64, align string) error {
	var dir geometry.Direction
	if align != "" {
		d, err := geometry.ParseDirection(align)
		if err != nil {
			return err
		}
		dir = d
	}
	for _, p := range s.Pages() {
		if p.Kind != pages.KindImagePage {
			continue
		}
		if scale != 1 {
			if _, err := s.SetScale(p.ID, scale); err != nil {
				return fmt.Errorf("page %d: %w", p.DisplayIndex, err)
			}
		}
		if dir != "" {
			if _, err := s.Align(p.ID, dir); err != nil {
				return fmt.Errorf("page %d: %w", p.DisplayIndex, err)
			}
		}
	}
	return nil
}
