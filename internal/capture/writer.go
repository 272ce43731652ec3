package capture

import (
	"bufio"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Writer is the net/http decorator of a response writer.
type Writer struct {
	http.ResponseWriter
	obs *Response
}

// WriteHeader records the commit and forwards the status.
func (w *Writer) WriteHeader(code int) {
	if !informational(code) {
		w.obs.commit(code)
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write forwards p unchanged and records the part the real writer accepted.
func (w *Writer) Write(p []byte) (int, error) {
	w.obs.commit(http.StatusOK)
	n, err := w.ResponseWriter.Write(p)
	w.obs.write(p[:n])
	return n, err
}

// ReadFrom implements io.ReaderFrom. The copy goes through Write so the
// payload is recorded, which gives up the sendfile fast path of the real
// writer.
func (w *Writer) ReadFrom(src io.Reader) (int64, error) {
	return io.Copy(writerOnly{w}, src)
}

// Hijack implements http.Hijacker. Bytes written to the hijacked connection
// bypass the writer and are not recorded.
func (w *Writer) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

// Flush implements http.Flusher.
func (w *Writer) Flush() {
	_ = w.FlushError()
}

// FlushError flushes the underlying writer, reporting http.ErrNotSupported
// when it cannot flush.
func (w *Writer) FlushError() error {
	w.obs.commit(http.StatusOK)
	return http.NewResponseController(w.ResponseWriter).Flush()
}

// Unwrap gives http.ResponseController access to the real writer.
func (w *Writer) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// writerOnly hides ReadFrom so io.Copy does not recurse into it.
type writerOnly struct {
	io.Writer
}

// GinWriter is the gin decorator of a response writer. gin defers the commit
// until the first write or WriteHeaderNow, so WriteHeader is only forwarded.
type GinWriter struct {
	gin.ResponseWriter
	obs *Response
}

// WrapGin returns a gin.ResponseWriter that forwards to w through r.
func (r *Response) WrapGin(w gin.ResponseWriter) *GinWriter {
	return &GinWriter{ResponseWriter: w, obs: r}
}

func (w *GinWriter) WriteHeaderNow() {
	w.obs.commit(w.Status())
	w.ResponseWriter.WriteHeaderNow()
}

func (w *GinWriter) Write(p []byte) (int, error) {
	w.obs.commit(w.Status())
	n, err := w.ResponseWriter.Write(p)
	w.obs.write(p[:n])
	return n, err
}

func (w *GinWriter) WriteString(s string) (int, error) {
	w.obs.commit(w.Status())
	n, err := w.ResponseWriter.WriteString(s)
	w.obs.write([]byte(s[:n]))
	return n, err
}

func (w *GinWriter) Flush() {
	w.obs.commit(w.Status())
	w.ResponseWriter.Flush()
}
