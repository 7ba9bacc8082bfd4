// Package compression registers a brotli compressor with gRPC under the
// name "br". Importing the package is enough to make it available to both
// clients (via grpc.UseCompressor) and servers.
package compression

import (
	"io"

	"github.com/andybalholm/brotli"
	"google.golang.org/grpc/encoding"
)

// Name is the grpc-encoding value advertised for brotli.
const Name = "br"

func init() {
	encoding.RegisterCompressor(brotliCompressor{level: brotli.DefaultCompression})
}

type brotliCompressor struct {
	level int
}

func (c brotliCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, c.level), nil
}

func (brotliCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return brotli.NewReader(r), nil
}

func (brotliCompressor) Name() string { return Name }
