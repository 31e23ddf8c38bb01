package encoder

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

const (
	gridDetectRes    = 64  // detection working resolution
	gridBlock        = 8   // detection block size at working resolution
	gridSide         = 16  // embedding grid side; Dim = gridSide^2
	gridVarianceMin  = 100 // minimum luma variance for a block to count as textured
	gridEmbeddingDim = gridSide * gridSide
)

// Grid is a deterministic pure-Go encoder. Detection finds the bounding box
// of high-variance luminance blocks (a flat or near-uniform frame has no
// face); the embedding is a zero-mean, unit-norm grayscale grid of the
// detected region. It is a development/test backend: exact by construction,
// not a recognition-grade model.
type Grid struct{}

// NewGrid returns the pure-Go encoder.
func NewGrid() *Grid { return &Grid{} }

// Dim returns the grid embedding dimensionality.
func (g *Grid) Dim() int { return gridEmbeddingDim }

// Detect returns at most one region: the bounding box of textured blocks.
func (g *Grid) Detect(data []byte) ([]Face, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	rect, ok := detectRegion(img)
	if !ok {
		return []Face{}, nil
	}
	return []Face{{Rect: rect}}, nil
}

// Encode embeds the detected region.
func (g *Grid) Encode(data []byte) ([]float32, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	rect, ok := detectRegion(img)
	if !ok {
		return nil, ErrNoFaceDetected
	}
	return embedRegion(img, rect), nil
}

// detectRegion scans luminance variance on a coarse grid and returns the
// bounding box of textured blocks mapped back to source coordinates.
// Single pass, bounded work regardless of input size.
func detectRegion(img image.Image) (image.Rectangle, bool) {
	gray := scaleGray(img, img.Bounds(), gridDetectRes, gridDetectRes)

	blocks := gridDetectRes / gridBlock
	minBX, minBY := blocks, blocks
	maxBX, maxBY := -1, -1
	for by := 0; by < blocks; by++ {
		for bx := 0; bx < blocks; bx++ {
			if blockVariance(gray, bx, by) >= gridVarianceMin {
				if bx < minBX {
					minBX = bx
				}
				if by < minBY {
					minBY = by
				}
				if bx > maxBX {
					maxBX = bx
				}
				if by > maxBY {
					maxBY = by
				}
			}
		}
	}
	if maxBX < 0 {
		return image.Rectangle{}, false
	}

	// Map block box back to source pixels.
	b := img.Bounds()
	sx := float64(b.Dx()) / gridDetectRes
	sy := float64(b.Dy()) / gridDetectRes
	rect := image.Rect(
		b.Min.X+int(float64(minBX*gridBlock)*sx),
		b.Min.Y+int(float64(minBY*gridBlock)*sy),
		b.Min.X+int(float64((maxBX+1)*gridBlock)*sx),
		b.Min.Y+int(float64((maxBY+1)*gridBlock)*sy),
	)
	return rect, true
}

// embedRegion produces the normalized grid vector for a source region.
func embedRegion(img image.Image, rect image.Rectangle) []float32 {
	gray := scaleGray(img, rect, gridSide, gridSide)

	vec := make([]float64, 0, gridEmbeddingDim)
	var sum float64
	for y := 0; y < gridSide; y++ {
		for x := 0; x < gridSide; x++ {
			v := gray[x][y]
			vec = append(vec, v)
			sum += v
		}
	}

	mean := sum / float64(len(vec))
	var norm float64
	for i := range vec {
		vec[i] -= mean
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	for i := range vec {
		out[i] = float32(vec[i] / norm)
	}
	return out
}

// scaleGray scales a source region to w x h and returns luma values as
// gray[x][y] in 0..255.
func scaleGray(img image.Image, srcRect image.Rectangle, w, h int) [][]float64 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, srcRect, draw.Over, nil)

	gray := make([][]float64, w)
	for x := 0; x < w; x++ {
		gray[x] = make([]float64, h)
		for y := 0; y < h; y++ {
			r, g, b, _ := dst.At(x, y).RGBA()
			// ITU-R BT.601 luma.
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return gray
}

// blockVariance computes luma variance of one detection block.
func blockVariance(gray [][]float64, bx, by int) float64 {
	var sum, sumSq float64
	n := float64(gridBlock * gridBlock)
	for x := bx * gridBlock; x < (bx+1)*gridBlock; x++ {
		for y := by * gridBlock; y < (by+1)*gridBlock; y++ {
			v := gray[x][y]
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}
