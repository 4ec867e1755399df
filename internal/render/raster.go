package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"golang.org/x/image/draw"

	"github.com/dgallion1/pagemerge/internal/geometry"
	"github.com/dgallion1/pagemerge/internal/pages"
)

// DrawImagePage rasterizes a raster-image page: a white canvas of
// canvasW×canvasH units with the image placed per pl, at pxPerUnit pixels
// per canvas unit. Preview, thumbnail and export fallback all draw through
// here.
func DrawImagePage(img image.Image, pl pages.Placement, canvasW, canvasH, pxPerUnit float64) *image.RGBA {
	c := canvas.New(canvasW, canvasH)
	ctx := canvas.NewContext(c)
	ctx.SetFillColor(canvas.White)
	ctx.DrawPath(0, 0, canvas.Rectangle(canvasW, canvasH))

	w, h := pl.ScaledSize()
	if w > 0 && h > 0 && img != nil {
		res := canvas.DPMM(float64(img.Bounds().Dx()) / w)
		ctx.DrawImage(pl.Offset.X, geometry.ToDocumentY(pl.Offset.Y, h, canvasH), img, res)
	}
	return rasterizer.Draw(c, canvas.DPMM(pxPerUnit), canvas.DefaultColorSpace)
}

// ScaleToWidth resizes src to the given pixel width, keeping its aspect
// ratio.
func ScaleToWidth(src image.Image, width int) *image.RGBA {
	b := src.Bounds()
	if width <= 0 || b.Dx() <= 0 {
		width = 1
	}
	height := 1
	if b.Dx() > 0 {
		height = max(1, int(float64(b.Dy())*float64(width)/float64(b.Dx())+0.5))
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
