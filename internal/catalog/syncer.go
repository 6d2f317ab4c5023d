package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cropsinsilico/cis-dispatcher/internal/metrics"
	"github.com/cropsinsilico/cis-dispatcher/internal/specstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/translator"
	"github.com/cropsinsilico/cis-dispatcher/internal/validator"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// ErrEmptyCatalog is returned when the source holds no usable model
// documents. The store is left untouched rather than emptied.
var ErrEmptyCatalog = errors.New("catalog source has no usable models")

// Report lists spec names per action taken by one Sync. Skipped holds the
// paths of documents that could not be parsed.
type Report struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
	Skipped   []string `json:"skipped,omitempty"`
}

// upstreamSpec is a parsed catalog document.
type upstreamSpec struct {
	content types.CatalogSpec
	hash    string
	path    string
}

// Syncer mirrors a catalog source into the spec store.
type Syncer struct {
	source    Source
	store     specstore.Store
	validator *validator.Validator
	logger    *slog.Logger
}

// NewSyncer creates a catalog syncer. The validator is optional.
func NewSyncer(source Source, store specstore.Store, v *validator.Validator, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		source:    source,
		store:     store,
		validator: v,
		logger:    logger.With("component", "catalog"),
	}
}

// Sync loads the source and reconciles the store with it:
//   - stored catalog specs whose name is gone upstream are removed, unless
//     some document was skipped and the upstream name set is incomplete
//   - specs whose upstream hash changed get the new content
//   - new names are created as public specs
//
// Specs without a hash were created by users and are never touched.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	docs, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrEmptyCatalog
	}

	report := &Report{}
	upstream := s.parse(docs, report)
	if len(upstream) == 0 {
		s.logger.Warn("no usable model documents", "skipped", len(report.Skipped))
		return nil, ErrEmptyCatalog
	}
	removals := len(report.Skipped) == 0
	if !removals {
		s.logger.Warn("documents skipped, not removing specs", "skipped", len(report.Skipped))
	}

	stored, err := s.store.List(ctx, &specstore.ListOptions{Admin: true})
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}

	existing := make(map[string]*specstore.Spec, len(stored))
	for _, spec := range stored {
		existing[spec.Name] = spec
		if spec.Hash == "" {
			continue
		}
		if _, ok := upstream[spec.Name]; ok || !removals {
			continue
		}
		if err := s.store.Delete(ctx, spec.ID); err != nil && !errors.Is(err, specstore.ErrSpecNotFound) {
			return report, fmt.Errorf("remove spec %s: %w", spec.Name, err)
		}
		s.logger.Info("spec removed upstream, deleting", "spec", spec.Name)
		s.record(&report.Removed, "removed", spec.Name)
	}

	names := make([]string, 0, len(upstream))
	for name := range upstream {
		names = append(names, name)
	}
	sort.Strings(names)

	public := true
	for _, name := range names {
		up := upstream[name]
		cur, ok := existing[name]

		switch {
		case !ok:
			_, err := s.store.Create(ctx, &specstore.CreateSpecRequest{
				Content: up.content,
				Hash:    up.hash,
				Public:  true,
			})
			if err != nil {
				return report, fmt.Errorf("create spec %s: %w", name, err)
			}
			s.logger.Info("new spec, creating", "spec", name, "path", up.path)
			s.record(&report.Created, "created", name)

		case cur.Hash != "" && cur.Hash != up.hash:
			content, hash := up.content, up.hash
			_, err := s.store.Update(ctx, cur.ID, &specstore.UpdateSpecRequest{
				Content: &content,
				Hash:    &hash,
				Public:  &public,
			})
			if err != nil {
				return report, fmt.Errorf("update spec %s: %w", name, err)
			}
			s.logger.Info("hash changed, updating spec", "spec", name, "hash", hash)
			s.record(&report.Updated, "updated", name)

		default:
			s.logger.Debug("hash identical, not updating spec", "spec", name)
			s.record(&report.Unchanged, "unchanged", name)
		}
	}

	s.logger.Info("catalog synchronized",
		"created", len(report.Created),
		"updated", len(report.Updated),
		"removed", len(report.Removed),
		"unchanged", len(report.Unchanged),
		"skipped", len(report.Skipped),
	)
	return report, nil
}

// parse converts documents to display form keyed by spec name. A later
// path wins when two documents define the same name.
func (s *Syncer) parse(docs []Document, report *Report) map[string]upstreamSpec {
	out := make(map[string]upstreamSpec, len(docs))
	for _, doc := range docs {
		model, err := translator.DecodeModel(doc.Data)
		if err != nil {
			s.logger.Warn("skipping unreadable model", "path", doc.Path, "error", err)
			report.Skipped = append(report.Skipped, doc.Path)
			continue
		}

		content := translator.ToDisplayForm(model)
		if s.validator != nil {
			if err := s.validator.ValidateSpec(&content).Err("spec"); err != nil {
				s.logger.Warn("skipping invalid model", "path", doc.Path, "error", err)
				report.Skipped = append(report.Skipped, doc.Path)
				continue
			}
		}

		if prev, ok := out[content.Name]; ok {
			s.logger.Warn("duplicate model name", "spec", content.Name, "path", doc.Path, "previous", prev.path)
		}
		out[content.Name] = upstreamSpec{content: content, hash: doc.Hash, path: doc.Path}
	}
	return out
}

func (s *Syncer) record(list *[]string, action, name string) {
	*list = append(*list, name)
	metrics.SpecsIngested.WithLabelValues(action).Inc()
}
