package receipt

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flarebyte/autofeedback/internal/archive"
)

// Receipt describes an accepted artifact.
type Receipt struct {
	ID      string
	Project int
	User    string
	Time    time.Time
	Format  archive.Format
	Bytes   int64
	SHA256  string
	Entries []archive.Entry
}

// Inspect reads the artifact from r and fills in its size, digest and, for
// tar artifacts, its member list.
func Inspect(r io.Reader, f archive.Format, c archive.Compression) (Receipt, error) {
	h := sha256.New()
	var raw bytes.Buffer
	n, err := io.Copy(io.MultiWriter(h, &raw), r)
	if err != nil {
		return Receipt{}, fmt.Errorf("reading artifact: %w", err)
	}
	rc := Receipt{Format: f, Bytes: n, SHA256: hex.EncodeToString(h.Sum(nil))}
	if f == archive.FormatTar {
		entries, err := archive.ReadEntries(&raw, c)
		if err != nil {
			return Receipt{}, err
		}
		rc.Entries = entries
	}
	return rc, nil
}

// Marshal returns canonical YAML for r. Top-level keys keep a fixed order;
// entry fields are sorted.
func Marshal(r Receipt) ([]byte, error) {
	top := &yaml.Node{Kind: yaml.MappingNode}
	add := func(k string, v any) {
		top.Content = append(top.Content, scalarNode(k), scalarFrom(v))
	}
	if r.ID != "" {
		add("id", r.ID)
	}
	add("project", r.Project)
	add("user", r.User)
	add("received", r.Time.UTC().Format(time.RFC3339))
	add("format", string(r.Format))
	add("bytes", r.Bytes)
	add("sha256", r.SHA256)
	if r.Format == archive.FormatTar {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, e := range r.Entries {
			m := map[string]any{"name": e.Name, "type": e.Type, "size": e.Size}
			if e.Linkname != "" {
				m["target"] = e.Linkname
			}
			seq.Content = append(seq.Content, canonicalMapNode(m))
		}
		top.Content = append(top.Content, scalarNode("entries"), seq)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(top); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	out = append(out, '\n')
	return out, nil
}

// Write marshals r to w.
func Write(w io.Writer, r Receipt) error {
	b, err := Marshal(r)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func scalarFrom(v any) *yaml.Node {
	n := &yaml.Node{}
	_ = n.Encode(v)
	return n
}

func canonicalMapNode(m map[string]any) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Content = append(n.Content, scalarNode(k), scalarFrom(m[k]))
	}
	return n
}
