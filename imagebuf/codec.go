package imagebuf

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode reads any registered image format (png, jpeg, webp, tiff, bmp).
// The format name reported by image.Decode is returned alongside the buffer.
func Decode(r io.Reader) (*Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", err
	}
	return FromImage(img), format, nil
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(data []byte) (*Image, error) {
	img, _, err := Decode(bytes.NewReader(data))
	return img, err
}

// Load decodes the image stored at path.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// EncodePNG writes an 8-bit RGB PNG.
func EncodePNG(w io.Writer, m *Image) error {
	return png.Encode(w, m.ToNRGBA())
}

// Save writes m to path as a PNG.
func Save(path string, m *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodePNG(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
