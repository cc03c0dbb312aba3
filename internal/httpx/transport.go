// Package httpx provides HTTP transport utilities shared by the provider
// clients: transparent decompression of upstream response bodies. The Grok
// web endpoints negotiate gzip, brotli and zstd, and when calls are relayed
// through rotating proxies the Content-Encoding header is not always
// trustworthy, so bodies are both header-decoded and magic-byte sniffed.
package httpx

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

// DecompressTransport wraps an http.RoundTripper and rewrites response bodies
// so callers always see plain bytes regardless of the upstream encoding.
type DecompressTransport struct {
	// Base is the underlying transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *DecompressTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.Uncompressed || resp.Body == nil {
		return resp, nil
	}

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		resp.Body = readCloser{Reader: brotli.NewReader(resp.Body), Closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		return resp, nil
	case "zstd":
		decoder, errDecoder := zstd.NewReader(resp.Body)
		if errDecoder != nil {
			log.Warnf("httpx: zstd reader creation failed: %v", errDecoder)
			return resp, nil
		}
		resp.Body = readCloser{Reader: decoder.IOReadCloser(), Closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		return resp, nil
	case "gzip":
		resp.Body = &gzipSniffReader{inner: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		return resp, nil
	case "":
		// Some upstreams return gzip bytes without declaring it. Sniff the
		// magic bytes on first read; plain responses pass through untouched.
		resp.Body = &gzipSniffReader{inner: resp.Body}
		return resp, nil
	default:
		return resp, nil
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// gzipSniffReader detects the gzip magic bytes on the first read and switches
// to streaming decompression when present. Works for SSE bodies too because
// no buffering happens beyond the two peeked bytes.
type gzipSniffReader struct {
	inner  io.ReadCloser
	reader io.Reader
	once   bool
}

func (g *gzipSniffReader) Read(p []byte) (int, error) {
	if !g.once {
		g.once = true
		buf := make([]byte, 2)
		n, err := io.ReadFull(g.inner, buf)
		joined := io.MultiReader(bytes.NewReader(buf[:n]), g.inner)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			g.reader = joined
			return g.reader.Read(p)
		}
		if n >= 2 && buf[0] == 0x1f && buf[1] == 0x8b {
			gzipReader, errGzip := gzip.NewReader(joined)
			if errGzip != nil {
				log.Warnf("httpx: gzip header detected but reader creation failed: %v", errGzip)
				g.reader = joined
			} else {
				g.reader = gzipReader
			}
		} else {
			g.reader = joined
		}
	}
	return g.reader.Read(p)
}

func (g *gzipSniffReader) Close() error {
	if closer, ok := g.reader.(io.Closer); ok {
		_ = closer.Close()
	}
	return g.inner.Close()
}
