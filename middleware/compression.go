package middleware

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

const (
	AlgorithmGzip    = "gzip"
	AlgorithmDeflate = "deflate"
	AlgorithmBrotli  = "br"

	DefaultLevel   = 6
	DefaultMinSize = 1000

	// Responses that shrink by less than this fraction are sent as-is.
	MinCompressionRatio = 0.05
)

var (
	brotliBytes  = []byte(AlgorithmBrotli)
	gzipBytes    = []byte(AlgorithmGzip)
	deflateBytes = []byte(AlgorithmDeflate)
)

// CompressionMiddleware negotiates the response encoding per request,
// preferring brotli, then gzip, then deflate.
type CompressionMiddleware struct {
	config            types.ConfigManager
	logger            types.Logger
	metrics           types.MetricsManager
	compressionConfig *CompressionConfig
	name              string
	weight            int
	gzipWriterPool    sync.Pool
	deflateWriterPool sync.Pool
	brotliWriterPool  sync.Pool
	bufferPool        sync.Pool
	varyHeaderValue   []byte
}

type CompressionConfig struct {
	Level        int      `json:"level"`
	MinSize      int      `json:"min_size"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *CompressionMiddleware {
	compressionConfig := &CompressionConfig{
		Level:   DefaultLevel,
		MinSize: DefaultMinSize,
		AllowedTypes: []string{
			"application/json",
			"application/xml",
			"application/javascript",
			"text/*",
		},
	}

	if config.GetConfig().Middlewares.Compression.Params != nil {
		if err := utils.UnmarshalConfig(config.GetConfig().Middlewares.Compression.Params, compressionConfig); err != nil {
			logger.Error("Failed to unmarshal Compression middleware config", zap.Error(err))
		}
	}

	if err := validateCompressionConfig(compressionConfig); err != nil {
		logger.Warn("Invalid compression config, using defaults", zap.Error(err))
		compressionConfig.Level = DefaultLevel
		compressionConfig.MinSize = DefaultMinSize
	}

	cm := &CompressionMiddleware{
		name:              "compression",
		weight:            config.GetConfig().Middlewares.Compression.Weight,
		config:            config,
		logger:            logger,
		metrics:           metrics,
		compressionConfig: compressionConfig,
		varyHeaderValue:   []byte("Accept-Encoding"),
	}

	cm.initializePools()

	return cm
}

func validateCompressionConfig(config *CompressionConfig) error {
	if config.Level < -1 || config.Level > 9 {
		return fmt.Errorf("invalid compression level: %d (must be between -1 and 9)", config.Level)
	}

	if config.MinSize < 0 {
		return fmt.Errorf("invalid min_size: %d (must be >= 0)", config.MinSize)
	}

	return nil
}

func (c *CompressionMiddleware) Name() string { return c.name }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	algorithm := negotiateAlgorithm(ctx.Request.Header.Peek("Accept-Encoding"))
	if algorithm == "" {
		next(ctx)
		return
	}

	next(ctx)

	if len(ctx.Response.Header.Peek("Content-Encoding")) > 0 {
		return
	}

	if !c.shouldCompress(ctx.Response.Header.Peek("Content-Type")) {
		return
	}

	c.compressResponse(ctx, algorithm)
}

// negotiateAlgorithm picks the strongest encoding the client accepts.
// Quality values are ignored, presence wins.
func negotiateAlgorithm(acceptEncoding []byte) string {
	if len(acceptEncoding) == 0 {
		return ""
	}

	if bytes.Contains(acceptEncoding, brotliBytes) {
		return AlgorithmBrotli
	}
	if bytes.Contains(acceptEncoding, gzipBytes) {
		return AlgorithmGzip
	}
	if bytes.Contains(acceptEncoding, deflateBytes) {
		return AlgorithmDeflate
	}

	return ""
}

func (c *CompressionMiddleware) shouldCompress(contentType []byte) bool {
	if len(contentType) == 0 {
		return false
	}

	ctStr := string(contentType)

	if semicolon := strings.Index(ctStr, ";"); semicolon != -1 {
		ctStr = ctStr[:semicolon]
	}
	ctStr = strings.TrimSpace(strings.ToLower(ctStr))

	for _, allowedType := range c.compressionConfig.AllowedTypes {
		if allowedType == ctStr {
			return true
		}
		if strings.HasSuffix(allowedType, "*") {
			prefix := strings.TrimSuffix(allowedType, "*")
			if strings.HasPrefix(ctStr, prefix) {
				return true
			}
		}
	}
	return false
}

func (c *CompressionMiddleware) compressResponse(ctx *fasthttp.RequestCtx, algorithm string) {
	bodyBytes := ctx.Response.Body()
	originalSize := len(bodyBytes)

	if originalSize < c.compressionConfig.MinSize {
		return
	}

	compressed, err := c.compress(bodyBytes, algorithm)
	if err != nil {
		c.logger.Error("Compression failed",
			zap.String("algorithm", algorithm),
			zap.Int("size", originalSize),
			zap.Error(err))
		return
	}

	ratio := float64(len(compressed)) / float64(originalSize)
	if 1.0-ratio < MinCompressionRatio {
		return
	}

	c.updateResponseHeaders(ctx, algorithm, len(compressed))
	ctx.Response.SetBody(compressed)

	if c.metrics != nil {
		c.metrics.Counter("http_compressed_total", map[string]string{
			"algorithm": algorithm,
		}).Inc()
	}
}

func (c *CompressionMiddleware) compress(data []byte, algorithm string) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	var err error
	switch algorithm {
	case AlgorithmBrotli:
		err = c.compressBrotli(buf, data)
	case AlgorithmGzip:
		err = c.compressGzip(buf, data)
	case AlgorithmDeflate:
		err = c.compressDeflate(buf, data)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
	if err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (c *CompressionMiddleware) compressGzip(buf *bytes.Buffer, data []byte) error {
	writer := c.gzipWriterPool.Get().(*gzip.Writer)
	writer.Reset(buf)
	defer func() {
		writer.Reset(nil)
		c.gzipWriterPool.Put(writer)
	}()

	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Close()
}

func (c *CompressionMiddleware) compressDeflate(buf *bytes.Buffer, data []byte) error {
	writer := c.deflateWriterPool.Get().(*flate.Writer)
	writer.Reset(buf)
	defer func() {
		writer.Reset(nil)
		c.deflateWriterPool.Put(writer)
	}()

	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Close()
}

func (c *CompressionMiddleware) compressBrotli(buf *bytes.Buffer, data []byte) error {
	writer := c.brotliWriterPool.Get().(*brotli.Writer)
	writer.Reset(buf)
	defer func() {
		writer.Reset(nil)
		c.brotliWriterPool.Put(writer)
	}()

	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Close()
}

func (c *CompressionMiddleware) updateResponseHeaders(ctx *fasthttp.RequestCtx, algorithm string, compressedSize int) {
	ctx.Response.Header.SetContentEncoding(algorithm)
	ctx.Response.Header.SetContentLength(compressedSize)

	existingVary := ctx.Response.Header.Peek("Vary")
	if len(existingVary) == 0 {
		ctx.Response.Header.SetBytesV("Vary", c.varyHeaderValue)
		return
	}

	if !bytes.Contains(existingVary, c.varyHeaderValue) {
		combined := make([]byte, 0, len(existingVary)+len(c.varyHeaderValue)+2)
		combined = append(combined, existingVary...)
		combined = append(combined, ", "...)
		combined = append(combined, c.varyHeaderValue...)
		ctx.Response.Header.SetBytesV("Vary", combined)
	}
}

func (c *CompressionMiddleware) initializePools() {
	c.gzipWriterPool = sync.Pool{
		New: func() interface{} {
			writer, _ := gzip.NewWriterLevel(nil, c.compressionConfig.Level)
			return writer
		},
	}

	c.deflateWriterPool = sync.Pool{
		New: func() interface{} {
			writer, _ := flate.NewWriter(nil, c.compressionConfig.Level)
			return writer
		},
	}

	c.brotliWriterPool = sync.Pool{
		New: func() interface{} {
			return brotli.NewWriterLevel(nil, c.compressionConfig.Level)
		},
	}

	c.bufferPool = sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 16384))
		},
	}
}
