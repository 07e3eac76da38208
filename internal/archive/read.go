package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
)

// Entry describes one member of a tar artifact.
type Entry struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Size     int64  `yaml:"size"`
	Linkname string `yaml:"target,omitempty"`
}

// ReadEntries lists the members of a tar artifact in archive order.
func ReadEntries(r io.Reader, c Compression) ([]Entry, error) {
	src, release, err := decompressReader(r, c)
	if err != nil {
		return nil, err
	}
	defer release()
	tr := tar.NewReader(src)
	var out []Entry
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		out = append(out, Entry{Name: hdr.Name, Type: typeName(hdr.Typeflag), Size: hdr.Size, Linkname: hdr.Linkname})
	}
}

func typeName(flag byte) string {
	switch flag {
	case tar.TypeReg:
		return "file"
	case tar.TypeDir:
		return "dir"
	case tar.TypeSymlink:
		return "symlink"
	}
	return "other"
}
