package encoder

import (
	"bytes"
	"fmt"
	"image/jpeg"

	goface "github.com/Kagami/go-face"
)

// Dlib encodes faces with the dlib ResNet model (128-d descriptors).
// Requires the go-face model files in the configured directory:
// shape_predictor_5_face_landmarks.dat and
// dlib_face_recognition_resnet_model_v1.dat.
type Dlib struct {
	rec    *goface.Recognizer
	strict bool
}

// NewDlib loads the dlib models from modelDir. With strict set, Encode
// fails on multi-face images instead of picking the largest region.
func NewDlib(modelDir string, strict bool) (*Dlib, error) {
	rec, err := goface.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load dlib models: %w", err)
	}
	return &Dlib{rec: rec, strict: strict}, nil
}

// Close releases the dlib recognizer.
func (d *Dlib) Close() {
	if d.rec != nil {
		d.rec.Close()
	}
}

// Dim returns the dlib descriptor dimensionality.
func (d *Dlib) Dim() int { return 128 }

// Detect returns every face region dlib finds.
func (d *Dlib) Detect(data []byte) ([]Face, error) {
	found, err := d.recognize(data)
	if err != nil {
		return nil, err
	}
	faces := make([]Face, 0, len(found))
	for _, f := range found {
		faces = append(faces, Face{Rect: f.Rectangle})
	}
	return faces, nil
}

// Encode produces the descriptor of the dominant face.
func (d *Dlib) Encode(data []byte) ([]float32, error) {
	found, err := d.recognize(data)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNoFaceDetected
	}
	if d.strict && len(found) > 1 {
		return nil, ErrMultipleFaces
	}

	faces := make([]Face, len(found))
	for i, f := range found {
		faces[i] = Face{Rect: f.Rectangle}
	}
	dominant := largestFace(faces)

	for _, f := range found {
		if f.Rectangle == dominant.Rect {
			out := make([]float32, len(f.Descriptor))
			for i, v := range f.Descriptor {
				out[i] = v
			}
			return out, nil
		}
	}
	return nil, ErrNoFaceDetected
}

// recognize validates/normalizes the input and runs dlib once. go-face only
// accepts JPEG, so other formats are transcoded first.
func (d *Dlib) recognize(data []byte) ([]goface.Face, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	found, err := d.rec.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}
	return found, nil
}
