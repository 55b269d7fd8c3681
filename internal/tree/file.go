package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Firefox bookmark backup type codes.
const (
	typeCodeBookmark  = 1
	typeCodeFolder    = 2
	typeCodeSeparator = 3
)

// Standard roots written to a fresh bookmarks file.
var standardRoots = []struct{ id, title string }{
	{"menu________", "Bookmarks Menu"},
	{"toolbar_____", "Bookmarks Toolbar"},
	{"unfiled_____", "Other Bookmarks"},
	{"mobile______", "Mobile Bookmarks"},
}

const rootID = "root________"

// fileNode is one entry of a Firefox JSON bookmark backup. Unknown fields are
// dropped on rewrite.
type fileNode struct {
	GUID     string      `json:"guid"`
	Title    string      `json:"title"`
	TypeCode int         `json:"typeCode"`
	URI      string      `json:"uri,omitempty"`
	Children []*fileNode `json:"children,omitempty"`
}

// FileTree is a Memory tree persisted to a Firefox-style JSON backup file.
// Every mutation rewrites the file.
type FileTree struct {
	*Memory
	path    string
	writeMu sync.Mutex
}

// OpenFileTree loads path, creating it with the standard roots when missing.
func OpenFileTree(path string) (*FileTree, error) {
	ft := &FileTree{Memory: NewMemory(), path: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := ft.Memory.Add(Item{ID: rootID, Kind: KindContainer}); err != nil {
			return nil, err
		}
		for _, r := range standardRoots {
			if err := ft.Memory.Add(Item{ID: r.id, Kind: KindContainer, Title: r.title, ParentID: rootID}); err != nil {
				return nil, err
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating bookmarks directory: %w", err)
		}
		if err := ft.save(); err != nil {
			return nil, err
		}
		return ft, nil
	}

	if err := ft.Reload(); err != nil {
		return nil, err
	}
	return ft, nil
}

// Path returns the backing file path.
func (f *FileTree) Path() string {
	return f.path
}

// Reload replaces the in-memory tree with the file content.
func (f *FileTree) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("reading bookmarks file: %w", err)
	}
	mem, err := decodeBackup(data)
	if err != nil {
		return fmt.Errorf("parsing bookmarks file %s: %w", f.path, err)
	}
	f.Memory.replace(mem)
	return nil
}

func (f *FileTree) Move(ctx context.Context, id, newParentID string) error {
	before, err := f.Memory.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := f.Memory.Move(ctx, id, newParentID); err != nil {
		return err
	}
	if before.ParentID == newParentID {
		return nil
	}
	return f.save()
}

func (f *FileTree) Create(ctx context.Context, item Item) (Item, error) {
	created, err := f.Memory.Create(ctx, item)
	if err != nil {
		return Item{}, err
	}
	return created, f.save()
}

func (f *FileTree) Update(ctx context.Context, id string, change Change) (Item, error) {
	updated, err := f.Memory.Update(ctx, id, change)
	if err != nil {
		return Item{}, err
	}
	return updated, f.save()
}

func (f *FileTree) Remove(ctx context.Context, id string) ([]string, error) {
	removed, err := f.Memory.Remove(ctx, id)
	if err != nil {
		return nil, err
	}
	return removed, f.save()
}

// save writes the tree to a temp file and renames it over the target.
func (f *FileTree) save() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	items, err := f.Memory.ListAll(context.Background())
	if err != nil {
		return err
	}
	data, err := encodeBackup(items)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".bookmarks-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing bookmarks: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing bookmarks temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing bookmarks file: %w", err)
	}
	return nil
}

func decodeBackup(data []byte) (*Memory, error) {
	var root fileNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	type pending struct {
		node   *fileNode
		parent string
	}
	mem := NewMemory()
	stack := []pending{{node: &root}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		kind := KindLeaf
		switch p.node.TypeCode {
		case typeCodeFolder:
			kind = KindContainer
		case typeCodeBookmark:
		default:
			continue
		}
		if p.node.GUID == "" {
			return nil, fmt.Errorf("entry %q has no guid", p.node.Title)
		}
		item := Item{ID: p.node.GUID, Kind: kind, Title: p.node.Title, ParentID: p.parent}
		if kind == KindLeaf {
			item.URL = p.node.URI
		}
		if err := mem.Add(item); err != nil {
			return nil, err
		}
		for i := len(p.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, pending{node: p.node.Children[i], parent: p.node.GUID})
		}
	}
	return mem, nil
}

// encodeBackup nests items (given in pre-order) under their parents.
func encodeBackup(items []Item) ([]byte, error) {
	nodes := make(map[string]*fileNode, len(items))
	var roots []*fileNode
	for _, it := range items {
		n := &fileNode{GUID: it.ID, Title: it.Title, TypeCode: typeCodeBookmark, URI: it.URL}
		if it.IsContainer() {
			n.TypeCode = typeCodeFolder
		}
		nodes[it.ID] = n
		if parent, ok := nodes[it.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		} else {
			roots = append(roots, n)
		}
	}

	var top *fileNode
	switch len(roots) {
	case 0:
		top = &fileNode{GUID: rootID, TypeCode: typeCodeFolder}
	case 1:
		top = roots[0]
	default:
		top = &fileNode{GUID: rootID, TypeCode: typeCodeFolder, Children: roots}
	}
	return json.MarshalIndent(top, "", "  ")
}
