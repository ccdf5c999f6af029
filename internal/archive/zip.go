// Package archive packs converted files into a single zip download.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

var ErrFinished = errors.New("archive already finished")

// Zip is an in-memory zip writer. Entries are added in call order.
type Zip struct {
	buf      bytes.Buffer
	w        *zip.Writer
	modified time.Time
	entries  int
	finished bool
}

func NewZip(modified time.Time) *Zip {
	z := &Zip{modified: modified}
	z.w = zip.NewWriter(&z.buf)
	return z
}

func (z *Zip) Add(name string, data []byte) error {
	if z.finished {
		return ErrFinished
	}
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	if name == "" {
		return errors.New("entry name is required")
	}

	// Already-compressed image formats gain nothing from deflate.
	method := zip.Deflate
	if compressedExt(name) {
		method = zip.Store
	}

	fw, err := z.w.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: z.modified,
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	z.entries++
	return nil
}

func (z *Zip) Entries() int {
	return z.entries
}

func (z *Zip) Finish() ([]byte, error) {
	if z.finished {
		return nil, ErrFinished
	}
	z.finished = true
	if err := z.w.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return z.buf.Bytes(), nil
}

// BundleName is the download name for an export created at t.
func BundleName(t time.Time) string {
	return fmt.Sprintf("converted_images_%s.zip", t.UTC().Format("2006-01-02"))
}

func compressedExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".jpg", ".jpeg", ".webp", ".avif", ".png"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
