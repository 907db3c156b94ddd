package retry

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding 我们自己声明 Accept-Encoding 后，net/http 不再自动解压
const acceptEncoding = "gzip, deflate, br"

// maxBodyBytes 限制单次响应体大小
const maxBodyBytes = 16 << 20

// ErrResponseTooLarge is returned when a decoded body exceeds the size limit.
// Retrying cannot shrink the body, so the executor treats it as terminal.
var ErrResponseTooLarge = errors.New("response body too large")

// decompressReader 根据 Content-Encoding 返回解压读取器，无压缩时返回原始读取器
func decompressReader(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return &brotliReadCloser{reader: brotli.NewReader(resp.Body), closer: resp.Body}, nil
	default:
		slog.Warn(fmt.Sprintf("⚠️ [解压] 未知的内容编码: %s, 使用原始内容", encoding))
		return resp.Body, nil
	}
}

type brotliReadCloser struct {
	reader io.Reader
	closer io.Closer
}

func (brc *brotliReadCloser) Read(p []byte) (int, error) { return brc.reader.Read(p) }

func (brc *brotliReadCloser) Close() error { return brc.closer.Close() }

// readBody reads and decodes the whole body, at most limit bytes after
// decompression. It runs under the attempt's context, so a slow body counts
// against the attempt timeout.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, err
	}
	if reader != resp.Body {
		defer reader.Close()
	}

	// 多读一个字节用于判断是否超限
	body, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, limit)
	}
	return body, nil
}
