package provider

import (
	"strings"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

// WalkPath resolves a slash-separated path from root, one element at a
// time, returning ENOENT as soon as any element is missing. An empty
// path (or "/") resolves to root itself.
func WalkPath(root Node, path string) (Node, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return root, nil
	}

	cur := root
	for _, elem := range strings.Split(path, "/") {
		if elem == "" {
			continue
		}
		next, err := cur.Walk(elem)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// WalkElements resolves elems one at a time from root, returning the
// node reached and how many elements were walked, even on partial
// failure (spec §4.1 Twalk semantics: a partial walk still reports
// however many qids succeeded).
func WalkElements(root Node, elems []string) (Node, int, error) {
	cur := root
	for i, elem := range elems {
		if elem == ".." {
			return cur, i, coherr.New(coherr.EINVAL, "walk element %q is not permitted", elem)
		}
		next, err := cur.Walk(elem)
		if err != nil {
			return cur, i, err
		}
		cur = next
	}
	return cur, len(elems), nil
}
