package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
)

// MaxUploadSize is the largest document the upload endpoint accepts.
const MaxUploadSize = 15 * 1024 * 1024

// AllowedMimeTypes lists the document types the upload endpoint accepts.
var AllowedMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// extensionMime maps file extensions to their upload mime type.
var extensionMime = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ErrInvalidUpload is wrapped by every upload validation failure.
var ErrInvalidUpload = errors.New("api: invalid upload")

// MimeTypeFor guesses a document's mime type from its extension.
func MimeTypeFor(name string) string {
	return extensionMime[strings.ToLower(filepath.Ext(name))]
}

// ValidateUpload checks an upload before any network call is made.
func ValidateUpload(conversationID, name, mimeType string, size int64) error {
	switch {
	case conversationID == "":
		return fmt.Errorf("%w: start a conversation before uploading documents", ErrInvalidUpload)
	case name == "":
		return fmt.Errorf("%w: file name is required", ErrInvalidUpload)
	case !AllowedMimeTypes[mimeType]:
		return fmt.Errorf("%w: unsupported file type %q (PDF or Word documents only)", ErrInvalidUpload, mimeType)
	case size <= 0:
		return fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	case size > MaxUploadSize:
		return fmt.Errorf("%w: file size exceeds the 15MB limit", ErrInvalidUpload)
	}
	return nil
}

// ProgressFunc receives upload progress in whole percent, 0 to 100. It is
// called only when the value changes.
type ProgressFunc func(percent int)

// UploadDocument validates and streams a document as multipart form data.
// The body is not buffered; progress tracks bytes of r consumed.
func (c *Client) UploadDocument(ctx context.Context, conversationID, name, mimeType string, r io.Reader, size int64, progress ProgressFunc) (*Document, error) {
	if err := ValidateUpload(conversationID, name, mimeType, size); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	tracker := &progressReader{r: io.LimitReader(r, size), total: size, report: progress, last: -1}

	go func() {
		err := writeUploadForm(mw, conversationID, name, mimeType, tracker)
		pw.CloseWithError(err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload", pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, &APIError{Op: "upload document", Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, &APIError{Op: "upload document", Cause: err}
	}
	defer resp.Body.Close()

	var doc Document
	if apiErr := decodeResponse("upload document", resp, &doc); apiErr != nil {
		return nil, apiErr
	}
	tracker.finish()
	return &doc, nil
}

func writeUploadForm(mw *multipart.Writer, conversationID, name, mimeType string, body io.Reader) error {
	if err := mw.WriteField("conversation_id", conversationID); err != nil {
		return err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filepath.Base(name))))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// progressReader reports the share of total bytes read.
type progressReader struct {
	r      io.Reader
	total  int64
	report ProgressFunc

	mu   sync.Mutex
	read int64
	last int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		pct := int(p.read * 100 / p.total)
		if pct > 99 {
			pct = 99 // 100 is reported once the server accepts the file
		}
		p.emitLocked(pct)
		p.mu.Unlock()
	}
	return n, err
}

func (p *progressReader) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(100)
}

func (p *progressReader) emitLocked(pct int) {
	if p.report == nil || pct <= p.last {
		return
	}
	p.last = pct
	p.report(pct)
}
