// Package vfs is the in-memory filesystem the player's shell operates on.
//
// Every operation takes a path and the caller's working directory. Failures
// are reported as false, zero values, or empty slices; nothing here returns
// an error or panics on user input.
package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/crystal-mush/clawback/pkg/events"
)

// HomeDir is what ~ expands to.
const HomeDir = "/home/user"

// NodeType distinguishes files from directories.
type NodeType int

const (
	File NodeType = iota
	Directory
)

func (t NodeType) String() string {
	if t == Directory {
		return "directory"
	}
	return "file"
}

type node struct {
	name       string
	typ        NodeType
	content    string
	perms      string
	modifiedAt int64
	hidden     bool
	trap       bool
	parent     *node
	children   map[string]*node
}

func (n *node) path() string {
	if n.parent == nil {
		return "/"
	}
	return path.Join(n.parent.path(), n.name)
}

func (n *node) size() int {
	if n.typ == Directory {
		return 4096
	}
	return len(n.content)
}

func (n *node) sortedChildren() []*node {
	out := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].typ != out[j].typ {
			return out[i].typ == Directory
		}
		return out[i].name < out[j].name
	})
	return out
}

// Info is a read-only snapshot of a node. Children is populated only by GetNode
// on a directory (one level) and by Walk.
type Info struct {
	Name        string   `json:"name"`
	Type        NodeType `json:"type"`
	Path        string   `json:"path"`
	Permissions string   `json:"permissions"`
	Size        int      `json:"size"`
	ModifiedAt  int64    `json:"modifiedAt"`
	IsHidden    bool     `json:"isHidden,omitempty"`
	IsTrap      bool     `json:"isTrap,omitempty"`
	Children    []Info   `json:"children,omitempty"`
}

// IsDir reports whether the snapshot is of a directory.
func (i Info) IsDir() bool { return i.Type == Directory }

func (n *node) info() Info {
	return Info{
		Name:        n.name,
		Type:        n.typ,
		Path:        n.path(),
		Permissions: n.perms,
		Size:        n.size(),
		ModifiedAt:  n.modifiedAt,
		IsHidden:    n.hidden,
		IsTrap:      n.trap,
	}
}

// Match is one grep hit. Line is 1-based.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// FS is the virtual filesystem. It is safe for concurrent use.
type FS struct {
	mu   sync.RWMutex
	root *node
	bus  *events.Bus
	now  func() int64
	seed func(*FS)

	muted atomic.Bool // set while seeding
}

// Option configures an FS.
type Option func(*FS)

// WithBus publishes file_read, file_written and security_violation events.
func WithBus(bus *events.Bus) Option {
	return func(fs *FS) { fs.bus = bus }
}

// WithTickSource stamps modifiedAt from the given function.
func WithTickSource(now func() int64) Option {
	return func(fs *FS) { fs.now = now }
}

// WithSeed replaces the default seed tree. A nil seed leaves only the root.
func WithSeed(seed func(*FS)) Option {
	return func(fs *FS) { fs.seed = seed }
}

// New creates a filesystem populated with the default workstation tree.
func New(opts ...Option) *FS {
	fs := &FS{
		now:  func() int64 { return 0 },
		seed: Seed,
	}
	for _, o := range opts {
		o(fs)
	}
	fs.Reset()
	return fs
}

// Reset discards every change and rebuilds the seed tree.
func (fs *FS) Reset() {
	fs.mu.Lock()
	fs.root = &node{typ: Directory, perms: "rwxr-xr-x", children: map[string]*node{}}
	fs.mu.Unlock()
	if fs.seed != nil {
		fs.muted.Store(true)
		fs.seed(fs)
		fs.muted.Store(false)
	}
}

// Resolve turns p into an absolute, clean path relative to cwd.
func (fs *FS) Resolve(p, cwd string) string {
	return Resolve(p, cwd)
}

// Resolve is the stateless form of FS.Resolve.
func Resolve(p, cwd string) string {
	switch {
	case p == "" || p == ".":
		p = cwd
	case p == "~":
		p = HomeDir
	case strings.HasPrefix(p, "~/"):
		p = HomeDir + p[1:]
	case !strings.HasPrefix(p, "/"):
		if cwd == "" {
			cwd = "/"
		}
		p = cwd + "/" + p
	}
	return path.Clean("/" + p)
}

func (fs *FS) lookup(abs string) *node {
	n := fs.root
	if abs == "/" {
		return n
	}
	for _, part := range strings.Split(strings.TrimPrefix(abs, "/"), "/") {
		if n.typ != Directory {
			return nil
		}
		next, ok := n.children[part]
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

func (fs *FS) emit(ev events.Event) {
	if fs.bus != nil && !fs.muted.Load() {
		ev.Tick = fs.now()
		fs.bus.Emit(ev)
	}
}

func (fs *FS) emitTrap(p, op string) {
	fs.emit(events.Event{
		Type: events.EvSecurityViolation,
		Kind: events.ViolationTrapAccess,
		Path: p,
		Text: op + " " + p,
	})
}

// GetNode returns a snapshot of the node at p. For directories the snapshot
// includes one level of children.
func (fs *FS) GetNode(p, cwd string) (Info, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n := fs.lookup(Resolve(p, cwd))
	if n == nil {
		return Info{}, false
	}
	inf := n.info()
	if n.typ == Directory {
		for _, c := range n.sortedChildren() {
			inf.Children = append(inf.Children, c.info())
		}
	}
	return inf, true
}

// Exists reports whether anything lives at p.
func (fs *FS) Exists(p, cwd string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.lookup(Resolve(p, cwd)) != nil
}

// IsDir reports whether p is a directory.
func (fs *FS) IsDir(p, cwd string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n := fs.lookup(Resolve(p, cwd))
	return n != nil && n.typ == Directory
}

// ListDir returns the directory's children, directories first. Hidden entries
// are omitted unless showHidden is set. A missing path or a file yields nil.
func (fs *FS) ListDir(p, cwd string, showHidden bool) []Info {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n := fs.lookup(Resolve(p, cwd))
	if n == nil || n.typ != Directory {
		return nil
	}
	var out []Info
	for _, c := range n.sortedChildren() {
		if c.hidden && !showHidden {
			continue
		}
		out = append(out, c.info())
	}
	return out
}

// ReadFile returns a file's content. Reading a trap publishes a violation.
func (fs *FS) ReadFile(p, cwd string) (string, bool) {
	abs := Resolve(p, cwd)
	fs.mu.RLock()
	n := fs.lookup(abs)
	if n == nil || n.typ != File {
		fs.mu.RUnlock()
		return "", false
	}
	content, trap := n.content, n.trap
	fs.mu.RUnlock()

	fs.emit(events.Event{Type: events.EvFileRead, Path: abs})
	if trap {
		fs.emitTrap(abs, "read")
	}
	return content, true
}

// WriteFile creates or overwrites a file. The parent must exist and the
// target must not be a directory.
func (fs *FS) WriteFile(p, content, cwd string) bool {
	return fs.put(Resolve(p, cwd), content, false)
}

// AppendFile adds content on a new line after the file's existing content,
// creating the file when it is missing. Only file_written is published: the
// old content is never handed back to the caller.
func (fs *FS) AppendFile(p, content, cwd string) bool {
	return fs.put(Resolve(p, cwd), content, true)
}

func (fs *FS) put(abs, content string, appending bool) bool {
	if abs == "/" {
		return false
	}
	fs.mu.Lock()
	parent := fs.lookup(path.Dir(abs))
	if parent == nil || parent.typ != Directory {
		fs.mu.Unlock()
		return false
	}
	name := path.Base(abs)
	created := false
	n, ok := parent.children[name]
	switch {
	case ok && n.typ == Directory:
		fs.mu.Unlock()
		return false
	case !ok:
		n = &node{
			name:   name,
			typ:    File,
			perms:  "rw-r--r--",
			hidden: strings.HasPrefix(name, "."),
			parent: parent,
		}
		parent.children[name] = n
		created = true
	}
	if appending && n.content != "" {
		content = n.content + "\n" + content
	}
	n.content = content
	n.modifiedAt = fs.now()
	fs.mu.Unlock()

	fs.emit(events.Event{
		Type: events.EvFileWritten,
		Path: abs,
		Data: map[string]any{"created": created, "size": len(content)},
	})
	return true
}

// Mkdir creates a single directory. The parent must exist and the name must be free.
func (fs *FS) Mkdir(p, cwd string) bool {
	abs := Resolve(p, cwd)
	if abs == "/" {
		return false
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent := fs.lookup(path.Dir(abs))
	if parent == nil || parent.typ != Directory {
		return false
	}
	name := path.Base(abs)
	if _, exists := parent.children[name]; exists {
		return false
	}
	parent.children[name] = &node{
		name:       name,
		typ:        Directory,
		perms:      "rwxr-xr-x",
		modifiedAt: fs.now(),
		hidden:     strings.HasPrefix(name, "."),
		parent:     parent,
		children:   map[string]*node{},
	}
	return true
}

// Remove deletes a file or directory. Non-empty directories need recursive.
// The root can never be removed.
func (fs *FS) Remove(p, cwd string, recursive bool) bool {
	abs := Resolve(p, cwd)
	if abs == "/" {
		return false
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.lookup(abs)
	if n == nil {
		return false
	}
	if n.typ == Directory && len(n.children) > 0 && !recursive {
		return false
	}
	delete(n.parent.children, n.name)
	n.parent = nil
	return true
}

// Copy duplicates a regular file. If dst is an existing directory the copy
// keeps the source name.
func (fs *FS) Copy(src, dst, cwd string) bool {
	srcAbs := Resolve(src, cwd)
	fs.mu.RLock()
	n := fs.lookup(srcAbs)
	if n == nil || n.typ != File {
		fs.mu.RUnlock()
		return false
	}
	content, trap := n.content, n.trap
	dstAbs := Resolve(dst, cwd)
	if d := fs.lookup(dstAbs); d != nil && d.typ == Directory {
		dstAbs = path.Join(dstAbs, n.name)
	}
	fs.mu.RUnlock()

	if trap {
		fs.emitTrap(srcAbs, "copy")
	}
	return fs.WriteFile(dstAbs, content, "/")
}

// Move renames or relocates a node. Moving a directory into its own subtree fails.
func (fs *FS) Move(src, dst, cwd string) bool {
	srcAbs := Resolve(src, cwd)
	if srcAbs == "/" {
		return false
	}
	dstAbs := Resolve(dst, cwd)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.lookup(srcAbs)
	if n == nil {
		return false
	}
	if d := fs.lookup(dstAbs); d != nil {
		if d.typ != Directory {
			if n.typ == Directory {
				return false
			}
			// overwrite the file at dst
			if dstAbs == srcAbs {
				return true
			}
			delete(d.parent.children, d.name)
		} else {
			dstAbs = path.Join(dstAbs, n.name)
		}
	}
	if dstAbs == srcAbs {
		return true
	}
	if n.typ == Directory && strings.HasPrefix(dstAbs+"/", srcAbs+"/") {
		return false
	}
	parent := fs.lookup(path.Dir(dstAbs))
	if parent == nil || parent.typ != Directory {
		return false
	}
	name := path.Base(dstAbs)
	if _, taken := parent.children[name]; taken {
		return false
	}
	delete(n.parent.children, n.name)
	n.name = name
	n.parent = parent
	n.modifiedAt = fs.now()
	parent.children[name] = n
	return true
}

// Chmod sets a node's permission string from octal (755) or symbolic (rwxr-xr-x) form.
func (fs *FS) Chmod(mode, p, cwd string) bool {
	perms, ok := parseMode(mode)
	if !ok {
		return false
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.lookup(Resolve(p, cwd))
	if n == nil {
		return false
	}
	n.perms = perms
	n.modifiedAt = fs.now()
	return true
}

func parseMode(mode string) (string, bool) {
	if len(mode) == 9 && strings.Trim(mode, "rwx-") == "" {
		return mode, true
	}
	if len(mode) != 3 {
		return "", false
	}
	var b strings.Builder
	for _, c := range mode {
		if c < '0' || c > '7' {
			return "", false
		}
		v := c - '0'
		for i, ch := range "rwx" {
			if v&(4>>i) != 0 {
				b.WriteRune(ch)
			} else {
				b.WriteByte('-')
			}
		}
	}
	return b.String(), true
}

// Grep searches files under scope (a file or a directory, recursively) for
// lines containing pattern. Matching inside a trap publishes a violation.
func (fs *FS) Grep(pattern, scope, cwd string, ignoreCase bool) []Match {
	if pattern == "" {
		return nil
	}
	needle := pattern
	if ignoreCase {
		needle = strings.ToLower(pattern)
	}
	fs.mu.RLock()
	start := fs.lookup(Resolve(scope, cwd))
	if start == nil {
		fs.mu.RUnlock()
		return nil
	}
	var out []Match
	var traps []string
	var visit func(n *node)
	visit = func(n *node) {
		if n.typ == Directory {
			for _, c := range n.sortedChildren() {
				visit(c)
			}
			return
		}
		hit := false
		for i, line := range strings.Split(n.content, "\n") {
			hay := line
			if ignoreCase {
				hay = strings.ToLower(line)
			}
			if strings.Contains(hay, needle) {
				out = append(out, Match{Path: n.path(), Line: i + 1, Text: line})
				hit = true
			}
		}
		if hit && n.trap {
			traps = append(traps, n.path())
		}
	}
	visit(start)
	fs.mu.RUnlock()

	for _, p := range traps {
		fs.emitTrap(p, "grep")
	}
	return out
}

// Walk returns a snapshot of the subtree rooted at p with Children filled at
// every level.
func (fs *FS) Walk(p, cwd string) (Info, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n := fs.lookup(Resolve(p, cwd))
	if n == nil {
		return Info{}, false
	}
	var walk func(n *node) Info
	walk = func(n *node) Info {
		inf := n.info()
		for _, c := range n.sortedChildren() {
			inf.Children = append(inf.Children, walk(c))
		}
		return inf
	}
	return walk(n), true
}

// DiskUsage sums the size of every node under p, directories included.
func (fs *FS) DiskUsage(p, cwd string) (int, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n := fs.lookup(Resolve(p, cwd))
	if n == nil {
		return 0, false
	}
	var total func(n *node) int
	total = func(n *node) int {
		sum := n.size()
		for _, c := range n.children {
			sum += total(c)
		}
		return sum
	}
	return total(n), true
}

// AllFilePaths lists every regular file, sorted. Trap files are excluded
// unless includeTraps is set.
func (fs *FS) AllFilePaths(includeTraps bool) []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out []string
	var visit func(n *node)
	visit = func(n *node) {
		if n.typ == File {
			if !n.trap || includeTraps {
				out = append(out, n.path())
			}
			return
		}
		for _, c := range n.children {
			visit(c)
		}
	}
	visit(fs.root)
	sort.Strings(out)
	return out
}
