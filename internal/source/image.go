package source

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// StdImageDecoder decodes PNG and JPEG images.
type StdImageDecoder struct{}

func (StdImageDecoder) Decode(data []byte, mimeType string) (*Bitmap, error) {
	if k, ok := KindForMIME(mimeType); !ok || k != KindImage {
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mimeType, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image (%dx%d)", b.Dx(), b.Dy())
	}
	return &Bitmap{
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
		Image:  img,
	}, nil
}
