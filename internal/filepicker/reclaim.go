package filepicker

import (
	"context"
	"errors"
	"sync"

	"github.com/ondrasimku/filepicker-go/internal/blob"
	"github.com/ondrasimku/filepicker-go/internal/domain"
)

type Revoker interface {
	Revoke(ctx context.Context, ref string) error
}

// Reclaim revokes every transient reference held by prev whose base no
// longer appears in next, and returns the bases it revoked. References
// already revoked elsewhere are skipped.
func Reclaim(ctx context.Context, r Revoker, prev, next []domain.SelectedFile) ([]string, error) {
	inUse := make(map[string]struct{}, len(next))
	for _, f := range next {
		if blob.IsReference(f.Data) {
			inUse[blob.Base(f.Data)] = struct{}{}
		}
	}

	var (
		revoked []string
		errs    []error
	)
	for _, f := range prev {
		if !blob.IsReference(f.Data) {
			continue
		}
		base := blob.Base(f.Data)
		if _, ok := inUse[base]; ok {
			continue
		}
		inUse[base] = struct{}{}

		if err := r.Revoke(ctx, f.Data); err != nil {
			if errors.Is(err, blob.ErrRevoked) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		revoked = append(revoked, base)
	}
	return revoked, errors.Join(errs...)
}

// refCounts counts, per reference base, the selections holding a reference
// created by a widget's batch. References it never tracked are left to
// whoever created them.
type refCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRefCounts() *refCounts {
	return &refCounts{counts: make(map[string]int)}
}

// track starts counting the references among freshly materialized files.
func (r *refCounts) track(files []domain.SelectedFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range files {
		if blob.IsReference(f.Data) {
			if _, ok := r.counts[blob.Base(f.Data)]; !ok {
				r.counts[blob.Base(f.Data)] = 0
			}
		}
	}
}

// update applies one selection's change from prev to next and returns the
// files of prev whose tracked reference no selection holds any more.
func (r *refCounts) update(prev, next []domain.SelectedFile) []domain.SelectedFile {
	before := referenceFiles(prev)
	after := referenceFiles(next)

	r.mu.Lock()
	defer r.mu.Unlock()

	for base := range after {
		if _, held := before[base]; held {
			continue
		}
		if n, ok := r.counts[base]; ok {
			r.counts[base] = n + 1
		}
	}

	var release []domain.SelectedFile
	for _, f := range prev {
		if !blob.IsReference(f.Data) {
			continue
		}
		base := blob.Base(f.Data)
		if _, held := after[base]; held {
			continue
		}
		n, ok := r.counts[base]
		if !ok {
			continue
		}
		if _, first := before[base]; !first {
			continue
		}
		delete(before, base)
		if n <= 1 {
			delete(r.counts, base)
			release = append(release, f)
		} else {
			r.counts[base] = n - 1
		}
	}
	return release
}

func referenceFiles(files []domain.SelectedFile) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range files {
		if blob.IsReference(f.Data) {
			out[blob.Base(f.Data)] = struct{}{}
		}
	}
	return out
}
