package payload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"edge-infer/internal/shared"

	"github.com/nfnt/resize"
)

type PixelFormat int

const (
	RGB888 PixelFormat = iota
	Gray8
)

func (f PixelFormat) Channels() int {
	if f == Gray8 {
		return 1
	}
	return 3
}

// Image is a packed HWC pixel buffer. SrcWidth and SrcHeight keep the
// dimensions of the encoded image so detections can be mapped back onto it.
type Image struct {
	Pix       []byte
	Width     int
	Height    int
	Format    PixelFormat
	SrcWidth  int
	SrcHeight int
}

// ImageDecoder turns compressed image bytes into raw pixels in the requested
// format.
type ImageDecoder interface {
	Decode(data []byte, format PixelFormat) (*Image, error)
}

// StdDecoder decodes JPEG, PNG and GIF and resizes to Width x Height. A zero
// dimension keeps the source size. Images declaring more than MaxPixels are
// rejected from their header alone.
type StdDecoder struct {
	Width     int
	Height    int
	MaxPixels int
	Interp    resize.InterpolationFunction
}

func NewStdDecoder(width, height int) *StdDecoder {
	return &StdDecoder{Width: width, Height: height, MaxPixels: shared.MaxImagePixels, Interp: resize.Bilinear}
}

var (
	ErrEmptyImage    = errors.New("empty image payload")
	ErrImageTooLarge = errors.New("image dimensions exceed limit")
)

func (d *StdDecoder) Decode(data []byte, format PixelFormat) (*Image, error) {
	if len(data) == 0 {
		return nil, shared.DecodeError(ErrEmptyImage)
	}
	cfg, kind, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, shared.DecodeError(fmt.Errorf("failed to decode image header: %w", err))
	}
	if d.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(d.MaxPixels) {
		return nil, shared.DecodeError(fmt.Errorf("%w: %s %dx%d", ErrImageTooLarge, kind, cfg.Width, cfg.Height))
	}
	img, kind, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, shared.DecodeError(fmt.Errorf("failed to decode image: %w", err))
	}
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, shared.DecodeError(fmt.Errorf("%s image has no pixels", kind))
	}

	w, h := d.Width, d.Height
	if w == 0 {
		w = srcW
	}
	if h == 0 {
		h = srcH
	}
	if w != srcW || h != srcH {
		img = resize.Resize(uint(w), uint(h), img, d.Interp)
	}
	return &Image{
		Pix:       pack(img, format),
		Width:     w,
		Height:    h,
		Format:    format,
		SrcWidth:  srcW,
		SrcHeight: srcH,
	}, nil
}

func pack(img image.Image, format PixelFormat) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	ch := format.Channels()
	pix := make([]byte, 0, width*height*ch)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.At(x, y)
			if format == Gray8 {
				pix = append(pix, color.GrayModel.Convert(c).(color.Gray).Y)
				continue
			}
			r, g, b, _ := c.RGBA()
			pix = append(pix, byte(r>>8), byte(g>>8), byte(b>>8))
		}
	}
	return pix
}
