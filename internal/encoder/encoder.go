// Package encoder turns captured face images into fixed-length embedding
// vectors. Two backends are provided: dlib (via Kagami/go-face) for real
// deployments and a pure-Go grid encoder for development and tests.
package encoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode means the payload was not a decodable image.
	ErrDecode = errors.New("undecodable image data")
	// ErrImageTooSmall rejects placeholder captures before detection runs.
	ErrImageTooSmall = errors.New("image too small to contain a face")
	// ErrNoFaceDetected means no face region was found.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFaces is returned by strict single-face encoding only.
	ErrMultipleFaces = errors.New("multiple faces detected")
)

// minImageDim is the smallest width/height accepted. Anything below this is
// treated as a placeholder frame (the web client sends 4x4 stubs when the
// camera never produced a capture).
const minImageDim = 32

// Face is a detected face region within the source image.
type Face struct {
	Rect image.Rectangle
}

// Encoder produces a fixed-dimension embedding from raw image bytes.
// Implementations are pure: same bytes, same model, same vector.
type Encoder interface {
	// Detect returns all face regions found in the image.
	Detect(data []byte) ([]Face, error)
	// Encode locates the dominant face and returns its embedding.
	Encode(data []byte) ([]float32, error)
	// Dim is the embedding dimensionality of this backend.
	Dim() int
}

// DecodeDataURL strips an optional data-URL header and base64-decodes the
// payload. Bare base64 without the header is accepted too.
func DecodeDataURL(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if strings.HasPrefix(s, "data:image") {
		idx := strings.IndexByte(s, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data URL", ErrDecode)
		}
		s = s[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return raw, nil
}

// decodeImage decodes bytes into an image and enforces the placeholder
// minimum. Shared by both backends so the rejection happens before any
// detection work.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() < minImageDim || b.Dy() < minImageDim {
		return nil, ErrImageTooSmall
	}
	return img, nil
}

// largestFace picks the dominant region deterministically: biggest area,
// ties broken by top-left position.
func largestFace(faces []Face) Face {
	best := faces[0]
	for _, f := range faces[1:] {
		a, b := area(f.Rect), area(best.Rect)
		if a > b || (a == b && (f.Rect.Min.Y < best.Rect.Min.Y ||
			(f.Rect.Min.Y == best.Rect.Min.Y && f.Rect.Min.X < best.Rect.Min.X))) {
			best = f
		}
	}
	return best
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
