package variant

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/disintegration/imaging"
)

// Resizer is the opaque transform capability: decode, resize under a
// fit policy, encode PNG. It is an interface so tests can count or fake
// transforms.
type Resizer interface {
	Resize(data []byte, width, height int, fit FitMode) ([]byte, error)
	Rotate(data []byte, degrees float64) ([]byte, error)
}

// TransformError marks a decode/resize failure on corrupt or
// unsupported source bytes, distinct from a missing original or a
// backend failure.
type TransformError struct {
	Cause error
}

func (e *TransformError) Error() string {
	return "image transform failed: " + e.Cause.Error()
}

func (e *TransformError) Unwrap() error {
	return e.Cause
}

// ImagingResizer implements Resizer with the imaging library.
type ImagingResizer struct{}

// Resize decodes data, resizes to width × height under fit and encodes
// the result as PNG.
func (ImagingResizer) Resize(data []byte, width, height int, fit FitMode) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &TransformError{Cause: fmt.Errorf("decode: %w", err)}
	}

	switch fit {
	case FitContain:
		img = imaging.Fit(img, width, height, imaging.Lanczos)
	default:
		img = imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, &TransformError{Cause: fmt.Errorf("encode: %w", err)}
	}
	return buf.Bytes(), nil
}

// Rotate decodes data, rotates counter-clockwise by degrees and encodes
// the result as PNG.
func (ImagingResizer) Rotate(data []byte, degrees float64) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &TransformError{Cause: fmt.Errorf("decode: %w", err)}
	}

	img = imaging.Rotate(img, degrees, color.Transparent)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, &TransformError{Cause: fmt.Errorf("encode: %w", err)}
	}
	return buf.Bytes(), nil
}
