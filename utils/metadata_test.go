package utils

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func TestReadPhotoMetadata_NoExif(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 12, 7))); err != nil {
		t.Fatal(err)
	}

	meta := ReadPhotoMetadata(buf.Bytes())
	if meta.Width == nil || *meta.Width != 12 || meta.Height == nil || *meta.Height != 7 {
		t.Errorf("dimensions not read: %+v", meta)
	}
	if meta.TakenAt != nil {
		t.Errorf("expected no capture time, got %d", *meta.TakenAt)
	}
}

func TestReadPhotoMetadata_Garbage(t *testing.T) {
	meta := ReadPhotoMetadata([]byte("not an image"))
	if meta.Width != nil || meta.TakenAt != nil {
		t.Errorf("expected empty metadata, got %+v", meta)
	}
}

func TestDetectionResult_Rect(t *testing.T) {
	r := DetectionResult{X: 5, Y: 6, W: 10, H: 20}.Rect()
	if r != image.Rect(5, 6, 15, 26) {
		t.Errorf("Rect = %v", r)
	}
}
