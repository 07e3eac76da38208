package archive

import (
	"context"
	"fmt"
	"io"
	"os"
)

type Format string

const (
	FormatTar     Format = "tar"
	FormatGitDiff Format = "git-diff"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatTar:
		return FormatTar, nil
	case FormatGitDiff:
		return FormatGitDiff, nil
	}
	return "", fmt.Errorf("unknown submission format: %q", s)
}

func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd, CompressionLZ4:
		return Compression(s), nil
	}
	return "", fmt.Errorf("unknown compression: %q", s)
}

// Ext returns the file extension of an artifact, without the leading dot.
func Ext(f Format, c Compression) string {
	if f == FormatGitDiff {
		return "patch"
	}
	switch c {
	case CompressionZstd:
		return "tar.zst"
	case CompressionLZ4:
		return "tar.lz4"
	}
	return "tar"
}

// Stats summarizes a finished build.
type Stats struct {
	Entries   int
	Bytes     int64
	Truncated bool
}

// Builder packages the directory open at root into w.
type Builder interface {
	Build(ctx context.Context, root *os.File, w io.Writer) (Stats, error)
}
