package producer

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Workspace listing bounds. The listing is prompt context, not an
// inventory; past these the producer sees a truncation marker.
const (
	maxTreeDepth = 4
	maxTreeFiles = 200
)

var errTreeFull = errors.New("tree full")

// treeNode is one directory or file in the workspace listing.
type treeNode struct {
	name     string
	children map[string]*treeNode
	isFile   bool
}

func newTreeNode(name string) *treeNode {
	return &treeNode{name: name, children: make(map[string]*treeNode)}
}

// WorkspaceTree renders the files under dir as an indented listing,
// directories first, so a producer knows which paths read_file can
// reach. Hidden entries are skipped. A missing or empty workspace
// yields "".
func WorkspaceTree(dir string) string {
	return workspaceTree(dir, maxTreeDepth, maxTreeFiles)
}

func workspaceTree(dir string, maxDepth, maxFiles int) string {
	files, truncated := listFiles(dir, maxFiles)
	if len(files) == 0 {
		return ""
	}

	var b strings.Builder
	renderTree(&b, buildTree(files), "", 0, maxDepth)
	if truncated {
		b.WriteString("[... more files not shown ...]\n")
	}
	return b.String()
}

// listFiles walks dir and returns workspace-relative paths, slash
// separated. Hidden entries and unreadable subtrees are skipped.
func listFiles(dir string, maxFiles int) (files []string, truncated bool) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if len(files) >= maxFiles {
			truncated = true
			return errTreeFull
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, errTreeFull) {
		return nil, false
	}
	sort.Strings(files)
	return files, truncated
}

// buildTree folds slash-separated paths into a node tree.
func buildTree(paths []string) *treeNode {
	root := newTreeNode("")
	for _, p := range paths {
		parts := strings.Split(p, "/")
		cur := root
		for i, part := range parts {
			if part == "" {
				continue
			}
			child, ok := cur.children[part]
			if !ok {
				child = newTreeNode(part)
				cur.children[part] = child
			}
			if i == len(parts)-1 {
				child.isFile = true
			}
			cur = child
		}
	}
	return root
}

// renderTree writes the node tree as indented text, directories before
// files at each level. Children deeper than maxDepth are dropped.
func renderTree(b *strings.Builder, node *treeNode, indent string, depth, maxDepth int) {
	if depth > maxDepth {
		return
	}

	var dirs, leaves []string
	for _, name := range sortedChildren(node) {
		child := node.children[name]
		if child.isFile && len(child.children) == 0 {
			leaves = append(leaves, name)
		} else {
			dirs = append(dirs, name)
		}
	}

	for _, name := range dirs {
		b.WriteString(indent)
		b.WriteString(name)
		b.WriteString("/\n")
		renderTree(b, node.children[name], indent+"  ", depth+1, maxDepth)
	}
	for _, name := range leaves {
		b.WriteString(indent)
		b.WriteString(name)
		b.WriteString("\n")
	}
}

func sortedChildren(node *treeNode) []string {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
