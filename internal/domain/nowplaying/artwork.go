package nowplaying

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif" // GIF decoder
	"image/jpeg"
	_ "image/png" // PNG decoder

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder

	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

// DefaultArtworkMaxSize caps artwork at 600x600 before it is shipped
// over the wire.
const DefaultArtworkMaxSize = 600

// encodeArtwork turns raw artwork bytes into a data URI, downscaling
// and re-encoding as JPEG when the image exceeds maxSize. Bytes that do
// not decode pass through under their original MIME type.
func encodeArtwork(art *provider.Artwork, maxSize int) string {
	img, format, err := image.Decode(bytes.NewReader(art.Data))
	if err != nil {
		mime := art.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(art.Data)
	}

	bounds := img.Bounds()
	if maxSize > 0 && (bounds.Dx() > maxSize || bounds.Dy() > maxSize) {
		log.Debug().
			Str("format", format).
			Int("width", bounds.Dx()).
			Int("height", bounds.Dy()).
			Int("max", maxSize).
			Msg("Downscaling artwork")
		img = downscale(img, maxSize)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		log.Warn().Err(err).Msg("Failed to encode artwork")
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// downscale fits an image within maxSize while keeping aspect ratio.
func downscale(src image.Image, maxSize int) image.Image {
	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	var newW, newH int
	if srcW > srcH {
		newW = maxSize
		newH = int(float64(srcH) * float64(maxSize) / float64(srcW))
	} else {
		newH = maxSize
		newW = int(float64(srcW) * float64(maxSize) / float64(srcH))
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
