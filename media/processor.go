package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultUploadMaxSize = 640
	DefaultJpegQuality   = 85
	JpegFileExtension    = ".jpg"

	// crops are padded by this fraction of the box on each side
	faceCropPadding = 0.15
)

// Processor handles upload compression and face crop encoding. It relies on
// a Store implementation for saving the results.
type Processor struct {
	store   Store
	maxSize int
	quality int
	logger  *zap.Logger
}

func NewProcessor(store Store, maxSize, quality int, logger *zap.Logger) *Processor {
	if maxSize <= 0 {
		maxSize = DefaultUploadMaxSize
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJpegQuality
	}
	return &Processor{store: store, maxSize: maxSize, quality: quality, logger: logger.Named("processor")}
}

// CompressUpload decodes an uploaded photo, applies its EXIF orientation and
// shrinks it to fit maxSize x maxSize. Smaller images are left at their size.
func (p *Processor) CompressUpload(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode uploaded image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", b.Dx(), b.Dy())
	}
	return imaging.Fit(img, p.maxSize, p.maxSize, imaging.Lanczos), nil
}

// SaveEnrollmentImage stores a compressed enrollment photo
func (p *Processor) SaveEnrollmentImage(img image.Image) (string, error) {
	return p.saveJPEG(AssetTypeEnrollment, "enroll", img)
}

// SaveFaceCrop cuts the padded face box out of img and stores it with a
// name starting with prefix, e.g. review_<uuid>.jpg
func (p *Processor) SaveFaceCrop(img image.Image, box image.Rectangle, prefix string) (string, error) {
	crop := CropFace(img, box)
	if crop == nil {
		return "", fmt.Errorf("face box %v lies outside image bounds %v", box, img.Bounds())
	}
	return p.saveJPEG(AssetTypeFaceCrop, prefix, crop)
}

// Delete removes a stored asset
func (p *Processor) Delete(relativePath string) error {
	return p.store.Delete(relativePath)
}

// CropFace returns the padded box clipped to the image, or nil when the box
// does not overlap the image
func CropFace(img image.Image, box image.Rectangle) image.Image {
	padX := int(float64(box.Dx()) * faceCropPadding)
	padY := int(float64(box.Dy()) * faceCropPadding)
	padded := image.Rect(box.Min.X-padX, box.Min.Y-padY, box.Max.X+padX, box.Max.Y+padY)
	clipped := padded.Intersect(img.Bounds())
	if clipped.Empty() {
		return nil
	}
	return imaging.Crop(img, clipped)
}

func (p *Processor) saveJPEG(assetType AssetType, prefix string, img image.Image) (string, error) {
	reader, writer := io.Pipe()
	go func() {
		err := imaging.Encode(writer, img, imaging.JPEG, imaging.JPEGQuality(p.quality))
		if err != nil {
			p.logger.Error("failed to encode image", zap.String("asset_type", string(assetType)), zap.Error(err))
			writer.CloseWithError(fmt.Errorf("jpeg encoding failed: %w", err))
			return
		}
		writer.Close()
	}()

	id, err := uuid.NewRandom()
	if err != nil {
		reader.CloseWithError(err)
		return "", fmt.Errorf("failed to generate UUID for %s: %w", assetType, err)
	}
	targetFilename := prefix + "_" + id.String() + JpegFileExtension

	savedRelPath, err := p.store.Save(assetType, targetFilename, reader)
	if err != nil {
		// unblock the encoder if Save gave up before draining the pipe
		reader.CloseWithError(err)
		return "", fmt.Errorf("failed to save %s via store: %w", assetType, err)
	}

	p.logger.Debug("saved image", zap.String("asset_type", string(assetType)), zap.String("path", savedRelPath))
	return savedRelPath, nil
}

// EncodeJPEG encodes img at the processor's quality
func (p *Processor) EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
