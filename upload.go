package contract

import (
	"fmt"
	"io"
	"mime/multipart"
)

// FileUpload is a file sent as a formData parameter. Its contents are
// removed once Dispatch returns; an open reader keeps working until closed.
type FileUpload struct {
	Filename string
	Size     int64
	Header   *multipart.FileHeader
}

func newFileUpload(h *multipart.FileHeader) *FileUpload {
	return &FileUpload{Filename: h.Filename, Size: h.Size, Header: h}
}

// Open returns a reader for the uploaded file contents.
func (f *FileUpload) Open() (io.ReadCloser, error) {
	if f.Header == nil {
		return nil, fmt.Errorf("no file header")
	}
	return f.Header.Open()
}

// ReadAll returns the uploaded file contents.
func (f *FileUpload) ReadAll() ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck // read-only file
	return io.ReadAll(rc)
}
