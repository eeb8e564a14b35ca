package xmp

import "strings"

// KeywordOptions controls how a packet's fields become keyword paths.
type KeywordOptions struct {
	// Hierarchy keeps full paths; otherwise only leaf names are returned.
	Hierarchy bool
	// Labels adds xmp:Label as [LabelParent, label].
	Labels      bool
	LabelParent string
}

// Keywords returns the packet's keywords as deduplicated paths, root first.
//
// Lightroom and friends write every ancestor of a hierarchical keyword into
// dc:subject as well, so a flat keyword that names any component of a
// hierarchical path is dropped.
func (p *Packet) Keywords(opts KeywordOptions) [][]string {
	var paths [][]string
	seen := make(map[string]bool)
	add := func(path []string) {
		key := strings.ToLower(strings.Join(path, "\x00"))
		if seen[key] {
			return
		}
		seen[key] = true
		paths = append(paths, path)
	}

	var hierarchical [][]string
	hierarchical = appendSplit(hierarchical, p.HierarchicalSubject, "|")
	hierarchical = appendSplit(hierarchical, p.TagsList, "/")
	hierarchical = appendSplit(hierarchical, p.LastKeywordXMP, "/")

	components := make(map[string]bool)
	for _, path := range hierarchical {
		for _, c := range path {
			components[strings.ToLower(c)] = true
		}
		if opts.Hierarchy {
			add(path)
		} else {
			add(path[len(path)-1:])
		}
	}

	for _, kw := range p.Subject {
		kw = normalize(kw)
		if kw == "" || components[strings.ToLower(kw)] {
			continue
		}
		add([]string{kw})
	}

	if opts.Labels && p.Label != "" {
		parent := normalize(opts.LabelParent)
		if parent == "" {
			add([]string{p.Label})
		} else {
			add([]string{parent, p.Label})
		}
	}

	return paths
}

// appendSplit splits each value on sep, dropping empty components.
func appendSplit(dst [][]string, values []string, sep string) [][]string {
	for _, v := range values {
		var path []string
		for _, c := range strings.Split(v, sep) {
			if c = normalize(c); c != "" {
				path = append(path, c)
			}
		}
		if len(path) > 0 {
			dst = append(dst, path)
		}
	}
	return dst
}
