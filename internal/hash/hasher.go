// Package hash computes the digest pair recorded for every tracked file.
// Both algorithms are fed in a single pass over the file.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"lukechampine.com/blake3"

	"github.com/historify-project/historify/pkg/errclass"
)

// BufferSize is the read buffer used for streaming hashing.
const BufferSize = 1 << 20

// Digests is the digest pair recorded in change log rows, lowercase hex.
type Digests struct {
	SHA256 string
	BLAKE3 string
}

// Hasher streams files through sha256 and blake3 with one reusable buffer.
// Not safe for concurrent use; a scan owns exactly one.
type Hasher struct {
	buf []byte
}

// New returns a Hasher with a 1 MiB read buffer.
func New() *Hasher {
	return &Hasher{buf: make([]byte, BufferSize)}
}

// File hashes the regular file at path. Zero-length files yield the
// canonical empty-input digests of each algorithm.
func (h *Hasher) File(path string) (Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digests{}, errclass.ErrIO.WithMessagef("open %s: %v", path, err)
	}
	defer f.Close()
	return h.Reader(f, path)
}

// Reader hashes everything readable from r. name is used in error messages.
func (h *Hasher) Reader(r io.Reader, name string) (Digests, error) {
	sh := sha256.New()
	b3 := blake3.New(32, nil)

	for {
		n, err := r.Read(h.buf)
		if n > 0 {
			sh.Write(h.buf[:n])
			b3.Write(h.buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Digests{}, errclass.ErrIO.WithMessagef("read %s: %v", name, err)
		}
	}

	return Digests{
		SHA256: hex.EncodeToString(sh.Sum(nil)),
		BLAKE3: hex.EncodeToString(b3.Sum(nil)),
	}, nil
}

// Bytes hashes an in-memory buffer.
func (h *Hasher) Bytes(data []byte) Digests {
	sha := sha256.Sum256(data)
	b3 := blake3.Sum256(data)
	return Digests{
		SHA256: hex.EncodeToString(sha[:]),
		BLAKE3: hex.EncodeToString(b3[:]),
	}
}
