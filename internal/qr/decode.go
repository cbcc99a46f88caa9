package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"

	// Browsers may hand over WebP frames from getUserMedia captures.
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnreadableFrame means the uploaded bytes are not an image at all. A
	// valid image without any code yields an empty result instead.
	ErrUnreadableFrame = errors.New("frame is not a decodable image")
	// ErrUnreadableCode means a code was located but its content failed the
	// format or checksum checks.
	ErrUnreadableCode = errors.New("qr code detected but could not be read")
)

const defaultMaxDimension = 1600

// Decoder extracts QR payloads from camera frames.
type Decoder struct {
	maxDimension int
}

// NewDecoder builds a Decoder that downsizes frames larger than 1600px.
func NewDecoder() *Decoder {
	return &Decoder{maxDimension: defaultMaxDimension}
}

// Decode returns the text of every code found in frame, in detection order.
func (d *Decoder) Decode(frame []byte) ([]string, error) {
	img, err := imaging.Decode(bytes.NewReader(frame), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFrame, err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(d.prepare(img))
	if err != nil {
		return nil, fmt.Errorf("binarize frame: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, hints)
	if err == nil && len(results) > 0 {
		texts := make([]string, 0, len(results))
		for _, r := range results {
			texts = append(texts, r.GetText())
		}
		return texts, nil
	}
	if err != nil && !isMiss(err) && !isDamaged(err) {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	// The multi detector needs clean finder patterns; a lone, slightly skewed
	// code is often only found by the single-code reader.
	single, err := zxqr.NewQRCodeReader().Decode(bmp, hints)
	switch {
	case err == nil:
	case isMiss(err):
		return []string{}, nil
	case isDamaged(err):
		return nil, fmt.Errorf("%w: %v", ErrUnreadableCode, err)
	default:
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return []string{single.GetText()}, nil
}

func (d *Decoder) prepare(img image.Image) image.Image {
	b := img.Bounds()
	if d.maxDimension > 0 && (b.Dx() > d.maxDimension || b.Dy() > d.maxDimension) {
		img = imaging.Fit(img, d.maxDimension, d.maxDimension, imaging.Lanczos)
	}
	return imaging.Grayscale(img)
}

// isMiss reports that no code was located in the frame.
func isMiss(err error) bool {
	var nf gozxing.NotFoundException
	return errors.As(err, &nf)
}

// isDamaged reports a located code whose bits did not decode.
func isDamaged(err error) bool {
	var cs gozxing.ChecksumException
	var fe gozxing.FormatException
	return errors.As(err, &cs) || errors.As(err, &fe)
}
