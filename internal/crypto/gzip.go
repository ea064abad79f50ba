package crypto

import (
	"bytes"
	"compress/gzip"
	"io"
)

// GzipDeflate compresses data using gzip, used to wrap RouterInfo bodies in
// DatabaseStore messages (spec.md §4.F).
func GzipDeflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GzipInflate decompresses a gzip stream produced by GzipDeflate.
func GzipInflate(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
