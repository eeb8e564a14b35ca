package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pbaille/xmptags/internal/domain"
	"github.com/pbaille/xmptags/internal/store"
)

var errUnmatched = errors.New("no matching tag")

// resolver turns keyword paths into library tags. In dry-run mode tags and
// links are planned in memory so repeated keywords are counted once.
type resolver struct {
	lib    Library
	dryRun bool
	create bool

	tags    map[string]*domain.Tag
	planned map[string]bool
	links   map[string]bool
	nextID  int
}

func newResolver(lib Library, dryRun, create bool) *resolver {
	return &resolver{
		lib:     lib,
		dryRun:  dryRun,
		create:  create,
		tags:    make(map[string]*domain.Tag),
		planned: make(map[string]bool),
		links:   make(map[string]bool),
	}
}

// resolve returns the tag for the path's leaf and the names of tags created
// on the way. Without creation only the leaf is looked up.
func (r *resolver) resolve(path []string) (*domain.Tag, []string, error) {
	if len(path) == 0 {
		return nil, nil, errUnmatched
	}

	if !r.create {
		tag, err := r.find(path[len(path)-1])
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, errUnmatched
		}
		return tag, nil, err
	}

	var parent *domain.Tag
	var created []string
	for _, name := range path {
		tag, err := r.find(name)
		if errors.Is(err, store.ErrNotFound) {
			var parentID *string
			if parent != nil {
				id := parent.ID
				parentID = &id
			}
			var isNew bool
			tag, isNew, err = r.createTag(name, parentID)
			if err != nil {
				return nil, nil, err
			}
			if isNew {
				created = append(created, name)
			}
		} else if err != nil {
			return nil, nil, err
		}
		parent = tag
	}
	return parent, created, nil
}

func (r *resolver) find(name string) (*domain.Tag, error) {
	key := strings.ToLower(name)
	if tag, ok := r.tags[key]; ok {
		return tag, nil
	}
	tag, err := r.lib.FindTag(name)
	if err != nil {
		return nil, err
	}
	r.tags[key] = tag
	return tag, nil
}

// createTag also reports whether the tag is new; it may already exist when
// another writer shares the database.
func (r *resolver) createTag(name string, parentID *string) (*domain.Tag, bool, error) {
	var tag *domain.Tag
	isNew := true
	if r.dryRun {
		r.nextID++
		tag = &domain.Tag{ID: fmt.Sprintf("planned-%d", r.nextID), Name: name, ParentID: parentID}
		r.planned[tag.ID] = true
	} else {
		var err error
		tag, err = r.lib.CreateTag(name, parentID)
		if errors.Is(err, store.ErrTagExists) {
			isNew = false
			tag, err = r.lib.FindTag(name)
		}
		if err != nil {
			return nil, false, err
		}
	}
	r.tags[strings.ToLower(name)] = tag
	return tag, isNew, nil
}

// link attaches tag to the entry unless it already is; it reports whether a
// new link was (or, in dry-run mode, would be) made.
func (r *resolver) link(entryID string, tag *domain.Tag, source string) (bool, error) {
	key := entryID + "\x00" + tag.ID
	if r.links[key] {
		return false, nil
	}
	r.links[key] = true

	if !r.planned[tag.ID] {
		has, err := r.lib.HasEntryTag(entryID, tag.ID)
		if err != nil {
			return false, err
		}
		if has {
			return false, nil
		}
	}

	if r.dryRun {
		return true, nil
	}
	return r.lib.LinkEntryTag(entryID, tag.ID, source)
}
