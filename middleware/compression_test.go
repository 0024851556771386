package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
)

func compressionConfigWith(minSize int) *stubConfig {
	config := testConfig()
	config.cfg.Middlewares.Compression.Params = map[string]interface{}{
		"min_size": minSize,
	}
	return config
}

func compressedResponse(t *testing.T, acceptEncoding string, minSize int, body string) *fasthttp.RequestCtx {
	t.Helper()

	mw := NewCompressionMiddleware(compressionConfigWith(minSize), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	if acceptEncoding != "" {
		ctx.Request.Header.Set("Accept-Encoding", acceptEncoding)
	}

	mw.Handle(&ctx, func(c *fasthttp.RequestCtx) {
		c.SetContentType("application/json")
		c.SetBodyString(body)
	}, nil)

	return &ctx
}

func TestNegotiateAlgorithm(t *testing.T) {
	cases := []struct {
		accept   string
		expected string
	}{
		{"gzip, deflate, br", AlgorithmBrotli},
		{"br", AlgorithmBrotli},
		{"gzip, deflate", AlgorithmGzip},
		{"deflate", AlgorithmDeflate},
		{"identity", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := negotiateAlgorithm([]byte(tc.accept)); got != tc.expected {
			t.Errorf("accept %q: got %q, want %q", tc.accept, got, tc.expected)
		}
	}
}

func TestCompressionGzipRoundTrip(t *testing.T) {
	payload := strings.Repeat(`{"jurisdiction":"Texas"},`, 50)
	ctx := compressedResponse(t, "gzip", 10, payload)

	if got := string(ctx.Response.Header.Peek("Content-Encoding")); got != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", got)
	}
	if got := string(ctx.Response.Header.Peek("Vary")); got != "Accept-Encoding" {
		t.Fatalf("expected Vary: Accept-Encoding, got %q", got)
	}

	reader, err := gzip.NewReader(bytes.NewReader(ctx.Response.Body()))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(decompressed) != payload {
		t.Fatal("decompressed body does not match original")
	}
}

func TestCompressionPrefersBrotli(t *testing.T) {
	payload := strings.Repeat(`{"county":"Dallas"},`, 50)
	ctx := compressedResponse(t, "gzip, deflate, br", 10, payload)

	if got := string(ctx.Response.Header.Peek("Content-Encoding")); got != "br" {
		t.Fatalf("expected brotli encoding, got %q", got)
	}

	decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(ctx.Response.Body())))
	if err != nil {
		t.Fatalf("brotli read: %v", err)
	}

	if string(decompressed) != payload {
		t.Fatal("decompressed body does not match original")
	}
}

func TestCompressionSkipsSmallBodies(t *testing.T) {
	ctx := compressedResponse(t, "gzip", 1000, `{"ok":true}`)

	if len(ctx.Response.Header.Peek("Content-Encoding")) != 0 {
		t.Fatal("small body should not be compressed")
	}
	if string(ctx.Response.Body()) != `{"ok":true}` {
		t.Fatal("body should be untouched")
	}
}

func TestCompressionSkipsDisallowedContentType(t *testing.T) {
	mw := NewCompressionMiddleware(compressionConfigWith(10), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Accept-Encoding", "gzip")

	payload := strings.Repeat("binary", 100)
	mw.Handle(&ctx, func(c *fasthttp.RequestCtx) {
		c.SetContentType("application/pdf")
		c.SetBodyString(payload)
	}, nil)

	if len(ctx.Response.Header.Peek("Content-Encoding")) != 0 {
		t.Fatal("pdf responses should not be re-compressed")
	}
}

func TestCompressionSkipsAlreadyEncoded(t *testing.T) {
	mw := NewCompressionMiddleware(compressionConfigWith(10), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Accept-Encoding", "gzip")

	mw.Handle(&ctx, func(c *fasthttp.RequestCtx) {
		c.SetContentType("application/json")
		c.Response.Header.SetContentEncoding("br")
		c.SetBodyString(strings.Repeat("x", 2000))
	}, nil)

	if got := string(ctx.Response.Header.Peek("Content-Encoding")); got != "br" {
		t.Fatalf("existing encoding should be preserved, got %q", got)
	}
	if len(ctx.Response.Body()) != 2000 {
		t.Fatal("already encoded body should be untouched")
	}
}
