package transfer

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/spf13/afero"

	"wpmirror/internal/entity"
)

// DigestSet streams bytes through MD5, SHA-1 and SHA-256 at once.
type DigestSet struct {
	md5    hash.Hash
	sha1   hash.Hash
	sha256 hash.Hash
}

func NewDigestSet() *DigestSet {
	return &DigestSet{
		md5:    md5.New(),
		sha1:   sha1.New(),
		sha256: sha256.New(),
	}
}

func (d *DigestSet) Writer() io.Writer {
	return io.MultiWriter(d.md5, d.sha1, d.sha256)
}

func (d *DigestSet) Apply(sum *entity.FileSummary) {
	sum.MD5 = hex.EncodeToString(d.md5.Sum(nil))
	sum.SHA1 = hex.EncodeToString(d.sha1.Sum(nil))
	sum.SHA256 = hex.EncodeToString(d.sha256.Sum(nil))
}

// SHA256Hex is the hex digest of the streamed content.
func (d *DigestSet) SHA256Hex() string {
	return hex.EncodeToString(d.sha256.Sum(nil))
}

// HashFile streams an existing file through the digest trio.
func HashFile(fs afero.Fs, path string, sum *entity.FileSummary) error {
	file, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open file for hashing: %w", err)
	}
	defer file.Close()

	digests := NewDigestSet()
	if _, err := io.Copy(digests.Writer(), file); err != nil {
		return fmt.Errorf("cannot hash file: %w", err)
	}

	digests.Apply(sum)

	return nil
}
