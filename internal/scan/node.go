package scan

// ItemKind distinguishes directories from files.
type ItemKind int

// Item kinds.
const (
	ItemFile ItemKind = iota
	ItemDirectory
	// ItemSymlink is an unfollowed link; it contributes no bytes.
	ItemSymlink
)

func (k ItemKind) String() string {
	switch k {
	case ItemDirectory:
		return "directory"
	case ItemSymlink:
		return "symlink"
	default:
		return "file"
	}
}

// Item describes one discovered entry.
type Item struct {
	Path      string
	Name      string
	Size      uint64
	Kind      ItemKind
	Depth     int
	Collapsed bool
}

// DirectoryNode is one entry of the scanned tree. Files are leaves; expanded directories
// own their Children; collapsed directories carry only their total size.
type DirectoryNode struct {
	Path      string
	Name      string
	Size      uint64
	Entries   int
	Kind      ItemKind
	Depth     int
	Collapsed bool
	Children  []*DirectoryNode

	state *dirState
}

// Find returns the node at path within n's subtree, or nil.
func (n *DirectoryNode) Find(path string) *DirectoryNode {
	if n == nil {
		return nil
	}
	if n.Path == path {
		return n
	}
	for _, child := range n.Children {
		if found := child.Find(path); found != nil {
			return found
		}
	}
	return nil
}

// Walk calls fn for n and every descendant, parents first.
func (n *DirectoryNode) Walk(fn func(*DirectoryNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
