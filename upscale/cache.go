package upscale

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/richinsley/comfytile/imagebuf"
)

// CaptionCache stores captions between tiles and between runs. The cache is
// owned by the caller and handed to the Pipeline; the pipeline itself keeps
// no state across invocations. Implementations live in package cache.
type CaptionCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, caption string) error
}

// Fingerprinter is implemented by captioners whose output depends on
// settings (model, thresholds, exclusions). The fingerprint is folded into
// cache keys, so changing a setting invalidates earlier entries.
type Fingerprinter interface {
	Fingerprint() string
}

// CaptionKey derives the cache key for a tile: a SHA-256 over the
// fingerprint, the tile shape and its samples.
func CaptionKey(img *imagebuf.Image, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})

	var buf [4]byte
	for _, v := range []int{img.Height, img.Width, img.Channels} {
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		h.Write(buf[:])
	}

	row := make([]byte, 4*img.Width*img.Channels)
	for y := 0; y < img.Height; y++ {
		px := img.Pix[img.Offset(y, 0) : img.Offset(y, 0)+img.Width*img.Channels]
		for i, v := range px {
			binary.LittleEndian.PutUint32(row[4*i:], math.Float32bits(v))
		}
		h.Write(row)
	}
	return hex.EncodeToString(h.Sum(nil))
}
