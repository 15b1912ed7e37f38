package migrator

import (
	"context"
	"io/fs"
	"os"

	"github.com/pkg/errors"

	"github.com/mirajehossain/schemaledger/internal/fsutil"
)

// Lister lists migrations in application order.
type Lister interface {
	List(ctx context.Context) ([]Migration, error)
}

// Source reads migration definitions from a directory on disk, or from FS
// rooted at Dir when FS is set (typically an embed.FS).
type Source struct {
	Dir string
	FS  fs.FS
}

// List returns every definition in the namespace sorted by ID. A missing
// directory on disk is created and yields an empty list.
func (s Source) List(ctx context.Context) ([]Migration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		entries []fsutil.Entry
		err     error
	)
	if s.FS != nil {
		entries, err = fsutil.ScanFS(s.FS, s.Dir)
	} else {
		entries, err = fsutil.ScanDir(s.Dir)
	}
	if err != nil {
		return nil, newError(ErrSourceRead, "", errors.Wrapf(err, "scan %s", s.Dir))
	}

	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		b, err := s.read(e.Path)
		if err != nil {
			return nil, newError(ErrSourceRead, e.ID, errors.Wrapf(err, "read %s", e.Path))
		}
		out = append(out, Migration{
			ID:        e.ID,
			Name:      e.Name,
			Timestamp: e.Timestamp,
			SQL:       string(b),
			Path:      e.Path,
		})
	}
	return out, nil
}

func (s Source) read(path string) ([]byte, error) {
	if s.FS != nil {
		return fs.ReadFile(s.FS, path)
	}
	return os.ReadFile(path)
}
