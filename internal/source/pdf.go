package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	pdflib "github.com/ledongthuc/pdf"
)

// ErrRasterizerUnavailable is returned by Render when no pdftoppm binary is
// configured.
var ErrRasterizerUnavailable = errors.New("pdf rasterizer unavailable")

// Fallback page size (US Letter) for pages without a readable MediaBox.
const (
	defaultPageWidth  = 612
	defaultPageHeight = 792
)

// PDFDecoder reads PDF structure with the Go library and rasterizes pages
// with pdftoppm.
type PDFDecoder struct {
	// PdftoppmPath is the pdftoppm executable. Empty disables rendering.
	PdftoppmPath string
}

func (d *PDFDecoder) Decode(ctx context.Context, data []byte) (doc Document, err error) {
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := reader.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	pd := &pdfDocument{data: data, pdftoppm: d.PdftoppmPath}
	for i := 1; i <= n; i++ {
		w, h := mediaBox(reader.Page(i))
		pd.pages = append(pd.pages, &pdfPage{doc: pd, number: i, width: w, height: h})
	}
	return pd, nil
}

type pdfDocument struct {
	data     []byte
	pdftoppm string
	pages    []*pdfPage
}

func (d *pdfDocument) PageCount() int { return len(d.pages) }

func (d *pdfDocument) Page(index int) (PageHandle, error) {
	if index < 0 || index >= len(d.pages) {
		return nil, fmt.Errorf("page index %d out of range (%d pages)", index, len(d.pages))
	}
	return d.pages[index], nil
}

type pdfPage struct {
	doc           *pdfDocument
	number        int // 1-based
	width, height float64
}

func (p *pdfPage) Size() (float64, float64) { return p.width, p.height }

func (p *pdfPage) Render(ctx context.Context, scale float64) (image.Image, error) {
	if p.doc.pdftoppm == "" {
		return nil, ErrRasterizerUnavailable
	}

	// pdftoppm reads from a file, so stage the document in a temp dir.
	dir, err := os.MkdirTemp("", "pagemerge-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, p.doc.data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	outRoot := filepath.Join(dir, "page")
	page := strconv.Itoa(p.number)
	dpi := strconv.FormatFloat(72*scale, 'f', 2, 64)

	cmd := exec.CommandContext(ctx, p.doc.pdftoppm,
		"-f", page, "-l", page, "-r", dpi, "-png", "-singlefile", in, outRoot)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", p.number, err, bytes.TrimSpace(out))
	}

	f, err := os.Open(outRoot + ".png")
	if err != nil {
		return nil, fmt.Errorf("open rendered page: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}
	return img, nil
}

// mediaBox returns the page size in points, following inherited
// attributes up the page tree.
func mediaBox(page pdflib.Page) (float64, float64) {
	v := page.V
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w < 0 {
				w = -w
			}
			if h < 0 {
				h = -h
			}
			if w > 0 && h > 0 {
				if rot := int(v.Key("Rotate").Int64()) % 360; rot == 90 || rot == 270 || rot == -90 || rot == -270 {
					return h, w
				}
				return w, h
			}
		}
		v = v.Key("Parent")
	}
	return defaultPageWidth, defaultPageHeight
}
