// Package importer maps XMP keywords found in sidecar files and embedded
// JPEG metadata onto library tags.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pbaille/xmptags/internal/config"
	"github.com/pbaille/xmptags/internal/domain"
	"github.com/pbaille/xmptags/internal/jpegxmp"
	"github.com/pbaille/xmptags/internal/xmp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Metadata sources recorded on entry results and tag links
const (
	SourceSidecar  = "sidecar"
	SourceEmbedded = "embedded"
	SourceEXIF     = "exif"
)

// Entry result statuses
const (
	StatusImported   = "imported"
	StatusNoMetadata = "no-metadata"
	StatusMissing    = "missing"
	StatusFailed     = "failed"
)

// Library is the part of the tag library an import needs
type Library interface {
	Dir() string
	AllEntries() ([]domain.Entry, error)
	FindTag(name string) (*domain.Tag, error)
	CreateTag(name string, parentID *string) (*domain.Tag, error)
	HasEntryTag(entryID, tagID string) (bool, error)
	LinkEntryTag(entryID, tagID, source string) (bool, error)
}

// Options tune a single run
type Options struct {
	// DryRun computes the report without touching the library
	DryRun bool
	// NoCreate only links tags that already exist
	NoCreate bool
}

// EntryResult describes what happened to one entry
type EntryResult struct {
	EntryID      string     `json:"entry_id"`
	Path         string     `json:"path"`
	Status       string     `json:"status"`
	Source       string     `json:"source,omitempty"`
	MetadataPath string     `json:"metadata_path,omitempty"`
	Keywords     [][]string `json:"keywords,omitempty"`
	Linked       []string   `json:"linked,omitempty"`
	Created      []string   `json:"created,omitempty"`
	Unmatched    []string   `json:"unmatched,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Report summarizes a run
type Report struct {
	DryRun      bool          `json:"dry_run"`
	Scanned     int           `json:"scanned"`
	Imported    int           `json:"imported"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	TagsCreated int           `json:"tags_created"`
	TagsLinked  int           `json:"tags_linked"`
	Entries     []EntryResult `json:"entries"`
}

// Importer imports XMP tags into a library
type Importer struct {
	lib    Library
	cfg    config.ImportConfig
	logger *zap.Logger

	// mu serializes runs so concurrent imports never create the same tag twice
	mu sync.Mutex

	// OnComplete runs once after an import has been applied (not on dry runs)
	OnComplete func(*Report)
}

// New creates an Importer; a nil logger discards log output
func New(lib Library, cfg config.ImportConfig, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Importer{lib: lib, cfg: cfg, logger: logger}
}

// Run reads metadata for every library entry and links the keywords it finds
func (im *Importer) Run(ctx context.Context, opts Options) (*Report, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.logger.Info("beginning metadata import",
		zap.String("library", im.lib.Dir()),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("no_create", opts.NoCreate))

	entries, err := im.lib.AllEntries()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	results := make([]EntryResult, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Workers)
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = im.extract(entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{DryRun: opts.DryRun, Scanned: len(entries)}
	res := newResolver(im.lib, opts.DryRun, im.cfg.CreateMissing && !opts.NoCreate)

	for i := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := &results[i]
		if r.Status == StatusImported {
			im.apply(res, r)
		}

		switch r.Status {
		case StatusImported:
			report.Imported++
		case StatusFailed:
			report.Failed++
		default:
			report.Skipped++
		}
		report.TagsCreated += len(r.Created)
		report.TagsLinked += len(r.Linked)
	}
	report.Entries = results

	im.logger.Info("done",
		zap.Int("scanned", report.Scanned),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("tags_created", report.TagsCreated),
		zap.Int("tags_linked", report.TagsLinked))

	if !opts.DryRun && im.OnComplete != nil {
		im.OnComplete(report)
	}
	return report, nil
}

// apply maps the result's keyword paths to tags and links them to the entry
func (im *Importer) apply(res *resolver, r *EntryResult) {
	log := im.logger.With(zap.String("entry", r.Path))
	log.Debug("adding xmp tags", zap.Int("keywords", len(r.Keywords)))

	for _, path := range r.Keywords {
		name := strings.Join(path, "/")

		tag, created, err := res.resolve(path)
		if errors.Is(err, errUnmatched) {
			r.Unmatched = append(r.Unmatched, name)
			continue
		}
		if err != nil {
			im.fail(r, fmt.Errorf("resolve tag %s: %w", name, err))
			return
		}
		r.Created = append(r.Created, created...)

		linked, err := res.link(r.EntryID, tag, r.Source)
		if err != nil {
			im.fail(r, fmt.Errorf("link tag %s: %w", name, err))
			return
		}
		if linked {
			r.Linked = append(r.Linked, name)
		}
	}
}

// extract locates and parses the metadata of one entry
func (im *Importer) extract(entry domain.Entry) EntryResult {
	r := EntryResult{EntryID: entry.ID, Path: entry.Path}
	log := im.logger.With(zap.String("entry", entry.Path))

	var packet *xmp.Packet
	if im.cfg.Sources.Sidecar {
		if sidecar := im.findSidecar(entry); sidecar != "" {
			r.Source = SourceSidecar
			r.MetadataPath = im.relative(sidecar)

			p, err := readSidecar(sidecar)
			if err != nil {
				im.fail(&r, err)
				return r
			}
			packet = p
		}
	}

	if packet == nil {
		abs := filepath.Join(im.lib.Dir(), filepath.FromSlash(entry.Path))
		if _, err := os.Stat(abs); err != nil {
			log.Warn("entry file not found", zap.Error(err))
			r.Status = StatusMissing
			r.Error = err.Error()
			return r
		}

		if im.cfg.Sources.Embedded && jpegxmp.IsJPEG(abs) {
			p, source, err := im.readEmbedded(abs, log)
			if err != nil {
				im.fail(&r, err)
				return r
			}
			if p != nil {
				packet = p
				r.Source = source
				r.MetadataPath = entry.Path
			}
		}
	}

	if packet == nil {
		log.Debug("no metadata found")
		r.Status = StatusNoMetadata
		return r
	}

	log.Debug("parse xmp data to tags", zap.String("source", r.Source))
	r.Keywords = packet.Keywords(xmp.KeywordOptions{
		Hierarchy:   im.cfg.Hierarchy,
		Labels:      im.cfg.Labels,
		LabelParent: im.cfg.LabelParent,
	})
	r.Status = StatusImported
	return r
}

func (im *Importer) fail(r *EntryResult, err error) {
	im.logger.Warn("import failed", zap.String("entry", r.Path), zap.Error(err))
	r.Status = StatusFailed
	r.Error = err.Error()
}

// findSidecar returns the first existing sidecar candidate, or ""
func (im *Importer) findSidecar(entry domain.Entry) string {
	self := filepath.Join(im.lib.Dir(), filepath.FromSlash(entry.Path))
	for _, candidate := range im.sidecarCandidates(entry) {
		if candidate == self {
			continue
		}
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

// sidecarCandidates lists, per extension: <dir>/<stem>.xmp,
// <dir>/<name>.xmp and <library>/<stem>.xmp
func (im *Importer) sidecarCandidates(entry domain.Entry) []string {
	root := im.lib.Dir()
	rel := filepath.FromSlash(entry.Path)
	dir := filepath.Join(root, filepath.Dir(rel))
	name := filepath.Base(rel)
	stem := entry.Stem()

	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, ext := range im.cfg.SidecarExtensions {
		add(filepath.Join(dir, stem+ext))
	}
	for _, ext := range im.cfg.SidecarExtensions {
		add(filepath.Join(dir, name+ext))
	}
	for _, ext := range im.cfg.SidecarExtensions {
		add(filepath.Join(root, stem+ext))
	}
	return out
}

func (im *Importer) relative(path string) string {
	rel, err := filepath.Rel(im.lib.Dir(), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func readSidecar(path string) (*xmp.Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sidecar: %w", err)
	}
	defer f.Close()

	p, err := xmp.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse sidecar %s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// readEmbedded merges the JPEG's XMP packet, its extended XMP and, when
// enabled, EXIF XPKeywords. A nil packet means the file carries none of them.
func (im *Importer) readEmbedded(path string, log *zap.Logger) (*xmp.Packet, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}

	segs, err := jpegxmp.Scan(data)
	if err != nil {
		return nil, "", err
	}

	packet := &xmp.Packet{}
	source := ""

	raw, err := segs.XMP()
	switch {
	case err == nil:
		p, err := xmp.Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, "", fmt.Errorf("parse embedded xmp: %w", err)
		}
		packet.Merge(p)
		source = SourceEmbedded

		ext, err := segs.ExtendedXMP()
		if err == nil {
			if p, err := xmp.Parse(bytes.NewReader(ext)); err == nil {
				packet.Merge(p)
			} else {
				log.Warn("skipping extended xmp", zap.Error(err))
			}
		} else if !errors.Is(err, jpegxmp.ErrNoExtendedXMP) {
			log.Warn("skipping extended xmp", zap.Error(err))
		}
	case !errors.Is(err, jpegxmp.ErrNoXMP):
		return nil, "", err
	}

	if im.cfg.Sources.EXIF {
		keywords, err := segs.EXIFKeywords()
		if err != nil && !errors.Is(err, jpegxmp.ErrNoEXIF) {
			log.Warn("skipping exif keywords", zap.Error(err))
		}
		if len(keywords) > 0 {
			packet.Subject = append(packet.Subject, keywords...)
			if source == "" {
				source = SourceEXIF
			}
		}
	}

	if source == "" {
		return nil, "", nil
	}
	return packet, source, nil
}
