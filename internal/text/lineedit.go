package text

import "sort"

// LineEdit records that content at OldLine in the previous snapshot now
// lives at NewLine. Lines are 0-indexed.
type LineEdit struct {
	OldLine int `json:"oldLine"`
	NewLine int `json:"newLine"`
}

// FileLineEdits is the set of line edits for one file, sorted ascending
// by OldLine.
type FileLineEdits struct {
	Path  string     `json:"path"`
	Edits []LineEdit `json:"edits"`
}

// GroupLineEdits groups raw (path, edit) pairs by file. Each file appears
// exactly once, files are ordered by path, and each group's edits are
// sorted ascending by OldLine. Duplicate (path, oldLine) entries keep the
// last occurrence.
func GroupLineEdits(path []string, edits []LineEdit) []FileLineEdits {
	if len(path) != len(edits) {
		panic("text: path/edit length mismatch")
	}

	byFile := make(map[string]map[int]LineEdit)
	for i, p := range path {
		m, ok := byFile[p]
		if !ok {
			m = make(map[int]LineEdit)
			byFile[p] = m
		}
		m[edits[i].OldLine] = edits[i]
	}

	paths := make([]string, 0, len(byFile))
	for p := range byFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]FileLineEdits, 0, len(paths))
	for _, p := range paths {
		group := make([]LineEdit, 0, len(byFile[p]))
		for _, e := range byFile[p] {
			group = append(group, e)
		}
		sort.Slice(group, func(i, j int) bool { return group[i].OldLine < group[j].OldLine })
		out = append(out, FileLineEdits{Path: p, Edits: group})
	}
	return out
}
