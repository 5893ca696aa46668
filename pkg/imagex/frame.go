// Package imagex decodes, crops and encodes the still frames that we classify.
// JPEG goes through cimg (libjpeg-turbo). Anything else is decoded by the imaging package.
package imagex

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/disintegration/imaging"
)

var ErrUnreadableImage = errors.New("Unreadable image")
var ErrEmptyCrop = errors.New("Crop is empty")

const DefaultJPEGQuality = 90

// Frame is a 24-bit RGB image
type Frame struct {
	Image *cimg.Image
}

// Create a black frame
func NewFrame(width, height int) *Frame {
	return &Frame{
		Image: cimg.NewImage(width, height, cimg.PixelFormatRGB),
	}
}

// Decode a JPEG, PNG, GIF, BMP or TIFF image.
// Any failure is reported as ErrUnreadableImage.
func Decode(b []byte) (*Frame, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrUnreadableImage)
	}
	if isJPEG(b) {
		img, err := cimg.Decompress(b)
		if err == nil {
			return fromCImg(img)
		}
		// Fall through, and give the pure Go decoder a chance
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	return FromImage(img), nil
}

// Read and decode an image file
func ReadFile(filename string) (*Frame, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	return Decode(b)
}

func isJPEG(b []byte) bool {
	return len(b) >= 3 && b[0] == 0xff && b[1] == 0xd8 && b[2] == 0xff
}

// Convert whatever cimg gave us into packed RGB
func fromCImg(src *cimg.Image) (*Frame, error) {
	nchan := src.NChan()
	if nchan == 3 && src.Format == cimg.PixelFormatRGB && src.Stride == src.Width*3 {
		return &Frame{Image: src}, nil
	}
	if nchan != 1 && nchan != 3 && nchan != 4 {
		return nil, fmt.Errorf("%w: unsupported channel count %v", ErrUnreadableImage, nchan)
	}
	f := NewFrame(src.Width, src.Height)
	dst := f.Image
	for y := 0; y < src.Height; y++ {
		srow := src.Pixels[y*src.Stride:]
		drow := dst.Pixels[y*dst.Stride:]
		for x := 0; x < src.Width; x++ {
			switch nchan {
			case 1:
				v := srow[x]
				drow[x*3], drow[x*3+1], drow[x*3+2] = v, v, v
			default:
				// libjpeg-turbo gives us RGB or RGBA order
				s := srow[x*nchan:]
				drow[x*3], drow[x*3+1], drow[x*3+2] = s[0], s[1], s[2]
			}
		}
	}
	return f, nil
}

// Create an RGB frame from any Go image
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	dst := f.Image
	for y := 0; y < b.Dy(); y++ {
		row := dst.Pixels[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			row[x*3] = c.R
			row[x*3+1] = c.G
			row[x*3+2] = c.B
		}
	}
	return f
}

func (f *Frame) Width() int {
	return f.Image.Width
}

func (f *Frame) Height() int {
	return f.Image.Height
}

func (f *Frame) Bounds() nn.Rect {
	return nn.Rect{X: 0, Y: 0, Width: f.Width(), Height: f.Height()}
}

// Return the frame in the form that our object detectors consume
func (f *Frame) WholeCrop() nn.ImageCrop {
	return nn.WholeImage(3, f.Image.Pixels, f.Width(), f.Height())
}

// Crop returns a copy of the given rectangle, clipped to the frame.
// If nothing of the rectangle lies inside the frame, ErrEmptyCrop is returned.
func (f *Frame) Crop(r nn.Rect) (*Frame, error) {
	r = r.Clamp(f.Width(), f.Height())
	if r.IsEmpty() {
		return nil, ErrEmptyCrop
	}
	crop := NewFrame(r.Width, r.Height)
	crop.Image.CopyImageRect(f.Image, r.X, r.Y, r.X2(), r.Y2(), 0, 0)
	return crop, nil
}

// Return a copy of the frame as a Go image
func (f *Frame) ToImage() *image.NRGBA {
	w, h := f.Width(), f.Height()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := f.Image.Pixels[y*f.Image.Stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 255
		}
	}
	return img
}

// Encode the frame as a JPEG
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	b, err := cimg.Compress(f.Image, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
	if err != nil {
		return nil, fmt.Errorf("Failed to encode JPEG: %w", err)
	}
	return b, nil
}

// Encode the frame as a PNG
func (f *Frame) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, f.ToImage(), imaging.PNG); err != nil {
		return nil, fmt.Errorf("Failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
