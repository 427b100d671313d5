package vfs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/clawback/pkg/events"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Receive(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Closed() bool { return false }

func (r *recorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestFS(t *testing.T) (*FS, *recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := &recorder{}
	bus.SubscribeGlobal(rec)
	tick := int64(7)
	return New(WithBus(bus), WithTickSource(func() int64 { return tick })), rec
}

func TestResolve(t *testing.T) {
	tests := []struct {
		p, cwd, want string
	}{
		{"/etc/hosts", "/tmp", "/etc/hosts"},
		{"documents", "/home/user", "/home/user/documents"},
		{"..", "/home/user", "/home"},
		{"../../..", "/home/user", "/"},
		{".", "/var/log", "/var/log"},
		{"", "/var/log", "/var/log"},
		{"~", "/tmp", "/home/user"},
		{"~/documents/todo.md", "/", "/home/user/documents/todo.md"},
		{"./a/./b/../c", "/tmp", "/tmp/a/c"},
		{"/..", "/", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Resolve(tt.p, tt.cwd), "Resolve(%q, %q)", tt.p, tt.cwd)
	}
}

func TestSeedIsQuiet(t *testing.T) {
	_, rec := newTestFS(t)
	assert.Empty(t, rec.ofType(events.EvFileWritten))
}

func TestReadMissingReturnsFalse(t *testing.T) {
	fs, _ := newTestFS(t)
	_, ok := fs.ReadFile("/nope", "/")
	assert.False(t, ok)
	_, ok = fs.ReadFile("/home/user", "/")
	assert.False(t, ok, "directories have no content")
	_, ok = fs.GetNode("/nope/deeper", "/")
	assert.False(t, ok)
	assert.Nil(t, fs.ListDir("/nope", "/", true))
	assert.Nil(t, fs.ListDir("/etc/hosts", "/", true))
}

func TestReadEmitsFileRead(t *testing.T) {
	fs, rec := newTestFS(t)
	content, ok := fs.ReadFile("documents/todo.md", "/home/user")
	require.True(t, ok)
	assert.Contains(t, content, "Review Dan's PR")
	reads := rec.ofType(events.EvFileRead)
	require.Len(t, reads, 1)
	assert.Equal(t, "/home/user/documents/todo.md", reads[0].Path)
	assert.Equal(t, int64(7), reads[0].Tick)
	assert.Empty(t, rec.ofType(events.EvSecurityViolation))
}

func TestTrapReadEmitsViolation(t *testing.T) {
	fs, rec := newTestFS(t)
	_, ok := fs.ReadFile("~/.secrets/passwords.txt", "/")
	require.True(t, ok)
	v := rec.ofType(events.EvSecurityViolation)
	require.Len(t, v, 1)
	assert.Equal(t, events.ViolationTrapAccess, v[0].Kind)
	assert.Equal(t, "/home/user/.secrets/passwords.txt", v[0].Path)
}

func TestWriteFile(t *testing.T) {
	fs, rec := newTestFS(t)
	assert.True(t, fs.WriteFile("notes.txt", "hello", "/tmp"))
	content, ok := fs.ReadFile("/tmp/notes.txt", "/")
	require.True(t, ok)
	assert.Equal(t, "hello", content)

	written := rec.ofType(events.EvFileWritten)
	require.Len(t, written, 1)
	assert.Equal(t, true, written[0].Data["created"])

	assert.True(t, fs.WriteFile("/tmp/notes.txt", "again", "/"))
	written = rec.ofType(events.EvFileWritten)
	assert.Equal(t, false, written[1].Data["created"])

	assert.False(t, fs.WriteFile("/missing/dir/file.txt", "x", "/"), "parent must exist")
	assert.False(t, fs.WriteFile("/home/user", "x", "/"), "cannot overwrite a directory")
	assert.False(t, fs.WriteFile("/", "x", "/"))
}

func TestAppendFile(t *testing.T) {
	fs, rec := newTestFS(t)
	assert.True(t, fs.AppendFile("/tmp/log.txt", "one", "/"))
	assert.True(t, fs.AppendFile("/tmp/log.txt", "two", "/"))
	assert.True(t, fs.AppendFile("~/.secrets/passwords.txt", "more", "/"))
	assert.Empty(t, rec.ofType(events.EvFileRead))
	assert.Empty(t, rec.ofType(events.EvSecurityViolation))

	written := rec.ofType(events.EvFileWritten)
	require.Len(t, written, 3)
	assert.Equal(t, true, written[0].Data["created"])
	assert.Equal(t, false, written[1].Data["created"])

	content, ok := fs.ReadFile("/tmp/log.txt", "/")
	require.True(t, ok)
	assert.Equal(t, "one\ntwo", content)
	assert.False(t, fs.AppendFile("/home/user", "x", "/"), "cannot append to a directory")
}

func TestMkdir(t *testing.T) {
	fs, _ := newTestFS(t)
	assert.True(t, fs.Mkdir("/tmp/build", "/"))
	assert.True(t, fs.IsDir("/tmp/build", "/"))
	assert.False(t, fs.Mkdir("/tmp/build", "/"), "name collision")
	assert.False(t, fs.Mkdir("/no/such/parent", "/"))
	assert.False(t, fs.Mkdir("/tmp/scratch.txt/sub", "/"))
}

func TestRemove(t *testing.T) {
	fs, _ := newTestFS(t)
	assert.False(t, fs.Remove("/", "/", true), "root is never removable")
	assert.False(t, fs.Remove("/home/user/documents", "/", false), "non-empty needs recursive")
	assert.True(t, fs.Remove("/home/user/documents", "/", true))
	assert.False(t, fs.Exists("/home/user/documents/todo.md", "/"))
	assert.False(t, fs.Remove("/home/user/documents", "/", true), "already gone")

	fs.Mkdir("/tmp/empty", "/")
	assert.True(t, fs.Remove("/tmp/empty", "/", false))
}

func TestCopy(t *testing.T) {
	fs, _ := newTestFS(t)
	assert.True(t, fs.Copy("/etc/hosts", "/tmp/hosts.bak", "/"))
	a, _ := fs.ReadFile("/etc/hosts", "/")
	b, _ := fs.ReadFile("/tmp/hosts.bak", "/")
	assert.Equal(t, a, b)

	assert.True(t, fs.Copy("/etc/hostname", "/tmp", "/"))
	assert.True(t, fs.Exists("/tmp/hostname", "/"))

	assert.False(t, fs.Copy("/etc", "/tmp/etc", "/"), "directories are not copied")
	assert.False(t, fs.Copy("/nope", "/tmp/x", "/"))
}

func TestMovePreservesPaths(t *testing.T) {
	fs, _ := newTestFS(t)
	require.True(t, fs.Move("/home/user/projects", "/tmp/archive", "/"))
	assert.False(t, fs.Exists("/home/user/projects", "/"))

	inf, ok := fs.GetNode("/tmp/archive/webapp/src/index.js", "/")
	require.True(t, ok)
	assert.Equal(t, "/tmp/archive/webapp/src/index.js", inf.Path)

	tree, ok := fs.Walk("/tmp/archive", "/")
	require.True(t, ok)
	var check func(i Info)
	check = func(i Info) {
		for _, c := range i.Children {
			assert.Equal(t, i.Path+"/"+c.Name, c.Path)
			check(c)
		}
	}
	check(tree)
}

func TestMoveIntoOwnSubtreeFails(t *testing.T) {
	fs, _ := newTestFS(t)
	assert.False(t, fs.Move("/home/user", "/home/user/documents/inner", "/"))
	assert.False(t, fs.Move("/home/user", "/home/user/documents", "/"))
	assert.True(t, fs.Exists("/home/user/documents/todo.md", "/"))
	assert.False(t, fs.Move("/", "/tmp/root", "/"))
}

func TestMoveIntoDirectory(t *testing.T) {
	fs, _ := newTestFS(t)
	require.True(t, fs.Move("/tmp/scratch.txt", "/home/user/documents", "/"))
	assert.True(t, fs.Exists("/home/user/documents/scratch.txt", "/"))
}

func TestListDirHidden(t *testing.T) {
	fs, _ := newTestFS(t)
	visible := fs.ListDir("/home/user", "/", false)
	for _, i := range visible {
		assert.False(t, i.IsHidden, "%s should be hidden", i.Name)
	}
	all := fs.ListDir("/home/user", "/", true)
	assert.Greater(t, len(all), len(visible))
	assert.True(t, all[0].IsDir(), "directories sort first")
}

func TestGrep(t *testing.T) {
	fs, rec := newTestFS(t)
	matches := fs.Grep("TODO", "/home/user/projects", "/", false)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Contains(t, m.Text, "TODO")
		assert.Greater(t, m.Line, 0)
	}
	assert.Empty(t, fs.Grep("todo", "/home/user/projects", "/", false))
	assert.NotEmpty(t, fs.Grep("todo", "/home/user/projects", "/", true))
	assert.Empty(t, rec.ofType(events.EvSecurityViolation))

	fs.Grep("admin", "/home/user", "/", false)
	assert.NotEmpty(t, rec.ofType(events.EvSecurityViolation), "grep into traps is a violation")
	assert.Nil(t, fs.Grep("x", "/nope", "/", false))
}

func TestChmod(t *testing.T) {
	fs, _ := newTestFS(t)
	assert.True(t, fs.Chmod("640", "/etc/hosts", "/"))
	inf, _ := fs.GetNode("/etc/hosts", "/")
	assert.Equal(t, "rw-r-----", inf.Permissions)
	assert.False(t, fs.Chmod("999", "/etc/hosts", "/"))
	assert.False(t, fs.Chmod("644", "/nope", "/"))
}

func TestAllFilePaths(t *testing.T) {
	fs, _ := newTestFS(t)
	safe := fs.AllFilePaths(false)
	for _, p := range safe {
		assert.NotContains(t, p, ".secrets")
	}
	assert.Greater(t, len(fs.AllFilePaths(true)), len(safe))
}

func TestDiskUsageAndReset(t *testing.T) {
	fs, _ := newTestFS(t)
	before, ok := fs.DiskUsage("/", "/")
	require.True(t, ok)
	fs.WriteFile("/tmp/big", string(make([]byte, 5000)), "/")
	after, _ := fs.DiskUsage("/", "/")
	assert.Equal(t, before+5000, after)

	fs.Reset()
	assert.False(t, fs.Exists("/tmp/big", "/"))
	again, _ := fs.DiskUsage("/", "/")
	assert.Equal(t, before, again)
}

func TestEmptySeed(t *testing.T) {
	fs := New(WithSeed(nil))
	assert.Empty(t, fs.ListDir("/", "/", true))
	assert.True(t, fs.IsDir("/", "/"))
}
