package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const defaultMaxUploadBytes = 64 << 20

type uploadedFile struct {
	Name string
	Data []byte
}

// parseMultipart bounds the request body and parses the form
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return fmt.Errorf("invalid multipart form: %w", err)
	}
	return nil
}

func readFileHeaders(headers []*multipart.FileHeader) ([]uploadedFile, error) {
	files := make([]uploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read upload %q: %w", fh.Filename, err)
		}
		files = append(files, uploadedFile{Name: fh.Filename, Data: data})
	}
	return files, nil
}

// formFiles returns the files under the first of keys that has any
func formFiles(r *http.Request, keys ...string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	for _, k := range keys {
		if fhs := r.MultipartForm.File[k]; len(fhs) > 0 {
			return fhs
		}
	}
	return nil
}
