package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression.
type BrotliConfig struct {
	Quality   int
	MinLength int
	// Skipper disables compression for matching requests.
	Skipper func(c *gin.Context) bool
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

// brotliWriter holds output back until MinLength bytes are buffered, then
// switches to brotli for the rest of the response. Short responses are
// written uncompressed when the handler returns.
type brotliWriter struct {
	gin.ResponseWriter
	enc        *brotli.Writer
	quality    int
	minLength  int
	buf        []byte
	compressed bool
	plain      bool
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	if bw.compressed {
		return bw.enc.Write(data)
	}
	if bw.plain {
		return bw.ResponseWriter.Write(data)
	}
	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < bw.minLength {
		return len(data), nil
	}
	if !compressible(bw.ResponseWriter.Header().Get("Content-Type")) {
		return len(data), bw.passthrough()
	}

	h := bw.ResponseWriter.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	bw.enc = brotli.NewWriterLevel(bw.ResponseWriter, bw.quality)
	bw.compressed = true

	pending := bw.buf
	bw.buf = nil
	if _, err := bw.enc.Write(pending); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// passthrough stops buffering and sends what is held as is.
func (bw *brotliWriter) passthrough() error {
	bw.plain = true
	pending := bw.buf
	bw.buf = nil
	_, err := bw.ResponseWriter.Write(pending)
	return err
}

// Flush pushes compressed or buffered bytes to the client. A flush before
// compression starts leaves the rest of the response uncompressed.
func (bw *brotliWriter) Flush() {
	if bw.compressed {
		_ = bw.enc.Flush()
	} else {
		_ = bw.passthrough()
	}
	bw.ResponseWriter.Flush()
}

func (bw *brotliWriter) finish() error {
	if bw.compressed {
		return bw.enc.Close()
	}
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.ResponseWriter.Write(bw.buf)
	bw.buf = nil
	return err
}

func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < brotli.BestSpeed || cfg.Quality > brotli.BestCompression {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if shouldSkip(c) || (cfg.Skipper != nil && cfg.Skipper(c)) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			quality:        cfg.Quality,
			minLength:      cfg.MinLength,
		}
		c.Writer = bw
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

// shouldSkip returns true for streams and upgrades that cannot be buffered.
func shouldSkip(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}

// compressible reports whether a response of contentType benefits from
// compression. Images, PDFs and spreadsheets are already compressed.
func compressible(contentType string) bool {
	ct, _, _ := strings.Cut(contentType, ";")
	ct = strings.TrimSpace(ct)
	switch {
	case ct == "":
		return true
	case strings.HasPrefix(ct, "text/"):
		return true
	case strings.HasSuffix(ct, "json"), strings.HasSuffix(ct, "xml"), strings.HasSuffix(ct, "javascript"):
		return true
	}
	return false
}
