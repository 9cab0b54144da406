package extraction

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.Extractor = (*ArchiveExtractor)(nil)

const (
	maxArchiveEntries   = 1000
	maxArchiveEntrySize = 32 << 20
	archiveConcurrency  = 4
)

// ArchiveExtractor walks zip and tar members and extracts each supported member
// through the registry; unsupported members are skipped.
type ArchiveExtractor struct {
	reg    *Registry
	logger *zap.Logger
}

func NewArchiveExtractor(reg *Registry, logger *zap.Logger) *ArchiveExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveExtractor{reg: reg, logger: logger}
}

func (e *ArchiveExtractor) Name() string { return "archive" }

func (e *ArchiveExtractor) ContentTypes() []string {
	return []string{
		"application/zip", "application/x-zip-compressed",
		"application/x-tar", "application/gzip", "application/x-gzip",
		".zip", ".tar", ".tgz", ".gz",
	}
}

type archiveMember struct {
	name string
	data []byte
}

func (e *ArchiveExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedText, error) {
	var (
		members []archiveMember
		err     error
	)
	switch contentType {
	case "application/zip", "application/x-zip-compressed", ".zip":
		members, err = readZip(data)
	case "application/gzip", "application/x-gzip", ".tgz", ".gz":
		members, err = readGzip(data)
	default:
		members, err = readTar(bytes.NewReader(data))
	}
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	texts := make([]string, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveConcurrency)
	for i, m := range members {
		g.Go(func() error {
			out, err := e.reg.ExtractNamed(gctx, m.data, "", m.name)
			switch {
			case errors.Is(err, core.ErrUnsupportedFormat):
				e.logger.Debug("skipping archive member", zap.String("member", m.name))
				return nil
			case core.IsRetryable(err):
				return err
			case err != nil:
				e.logger.Warn("archive member failed to extract", zap.String("member", m.name), zap.Error(err))
				return nil
			}
			if strings.TrimSpace(out.Text) != "" {
				texts[i] = "## " + m.name + "\n\n" + out.Text
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	extracted := 0
	var parts []string
	for _, t := range texts {
		if t != "" {
			extracted++
			parts = append(parts, t)
		}
	}

	return &core.ExtractedText{
		Text: strings.Join(parts, "\n\n"),
		Metadata: map[string]string{
			"archive_entries":   strconv.Itoa(len(members)),
			"archive_extracted": strconv.Itoa(extracted),
		},
	}, nil
}

func readZip(data []byte) ([]archiveMember, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var out []archiveMember
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if len(out) == maxArchiveEntries {
			return nil, fmt.Errorf("archive has more than %d entries", maxArchiveEntries)
		}
		if f.UncompressedSize64 > maxArchiveEntrySize {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		b, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntrySize))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out = append(out, archiveMember{name: f.Name, data: b})
	}
	return out, nil
}

func readTar(r io.Reader) ([]archiveMember, error) {
	tr := tar.NewReader(r)
	var out []archiveMember
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if len(out) == maxArchiveEntries {
			return nil, fmt.Errorf("archive has more than %d entries", maxArchiveEntries)
		}
		if hdr.Size > maxArchiveEntrySize {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		out = append(out, archiveMember{name: hdr.Name, data: b})
	}
}

// readGzip unwraps a gzip stream: a tarball yields its members, anything else one member.
func readGzip(data []byte) ([]archiveMember, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxArchiveEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxArchiveEntrySize {
		return nil, fmt.Errorf("gzip payload larger than %d bytes", maxArchiveEntrySize)
	}
	if members, err := readTar(bytes.NewReader(raw)); err == nil && len(members) > 0 {
		return members, nil
	}

	name := zr.Name
	if name == "" {
		name = "payload"
	}
	return []archiveMember{{name: path.Base(name), data: raw}}, nil
}
