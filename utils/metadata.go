package utils

import (
	"bytes"
	"image"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// PhotoMetadata is the subset of EXIF recorded alongside queued faces
type PhotoMetadata struct {
	Width       *int    `json:"width,omitempty"`
	Height      *int    `json:"height,omitempty"`
	CameraMake  *string `json:"camera_make,omitempty"`
	CameraModel *string `json:"camera_model,omitempty"`
	TakenAt     *int64  `json:"taken_at,omitempty"`
}

// helper to safely get a string tag, trimming null terminators
func getString(exifData *exif.Exif, tagName exif.FieldName) *string {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return nil
	}
	val, err := tag.StringVal()
	if err != nil {
		val = tag.String()
	}
	val = strings.TrimRight(val, "\x00")
	if val == "" {
		return nil
	}
	return &val
}

// ReadPhotoMetadata extracts dimensions and capture time from an encoded
// photo. Missing or corrupt EXIF is not an error; the fields stay nil.
func ReadPhotoMetadata(data []byte) PhotoMetadata {
	var meta PhotoMetadata

	if config, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h := config.Width, config.Height
		meta.Width = &w
		meta.Height = &h
	}

	exifData, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// most phone screenshots and PNGs carry no EXIF
		return meta
	}

	meta.CameraMake = getString(exifData, exif.Make)
	meta.CameraModel = getString(exifData, exif.Model)
	if dt, err := exifData.DateTime(); err == nil {
		ts := dt.Unix()
		meta.TakenAt = &ts
	}
	return meta
}
