package registry

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const mimePDF = "application/pdf"

var extraTypes = map[string]string{
	".md":   "text/markdown",
	".txt":  "text/plain",
	".pdf":  mimePDF,
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// DetectMIMEType picks a MIME type from the file extension, falling back to
// content sniffing.
func DetectMIMEType(name string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return http.DetectContentType(content)
}

// pdfPageCount opens content as a PDF and returns its page count. No text is
// extracted; this only rejects files the service would fail to process.
func pdfPageCount(content []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("reading pdf: %v", r)
		}
	}()

	rd, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, fmt.Errorf("reading pdf: %w", err)
	}
	n = rd.NumPage()
	if n == 0 {
		return 0, fmt.Errorf("reading pdf: no pages")
	}
	return n, nil
}
