package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/inconshreveable/log15.v2"
)

const processedDir = "processed"

// DirProducer reads *.eml files dropped into a directory. Acked files are
// moved to a processed/ subdirectory.
type DirProducer struct {
	dir string
	log log15.Logger
}

func NewDirProducer(dir string, log log15.Logger) *DirProducer {
	return &DirProducer{dir: dir, log: log.New("producer", SourceFilesystem)}
}

func (p *DirProducer) Name() string { return SourceFilesystem }

func (p *DirProducer) Fetch(ctx context.Context) ([]Email, error) {
	paths, err := filepath.Glob(filepath.Join(p.dir, "*.eml"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p.dir, err)
	}
	sort.Strings(paths)

	var out []Email
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := p.read(path)
		if err != nil {
			p.log.Warn("unreadable message file", "path", path, "err", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *DirProducer) read(path string) (Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return Email{}, err
	}
	defer f.Close()

	e, err := ParseMIME(f, SourceFilesystem)
	if err != nil {
		return Email{}, err
	}
	if e.Date.IsZero() {
		if fi, err := f.Stat(); err == nil {
			e.Date = fi.ModTime().UTC()
		}
	}
	e.Ref = path
	return e, nil
}

func (p *DirProducer) Ack(_ context.Context, e Email) error {
	dst := filepath.Join(p.dir, processedDir)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if err := os.Rename(e.Ref, filepath.Join(dst, filepath.Base(e.Ref))); err != nil {
		return fmt.Errorf("move %s: %w", e.Ref, err)
	}
	return nil
}
