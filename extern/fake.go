package extern

import (
	"fmt"

	"golang.org/x/tools/txtar"
)

// FakeInode is an in-memory Inode good enough to drive every core package's
// tests: Readi serves bytes out of a fixed backing slice.
type FakeInode struct {
	Name string
	Data []byte
	refs int
}

func (f *FakeInode) Idup() Inode {
	f.refs++
	return f
}

func (f *FakeInode) Iput() {
	f.refs--
}

func (f *FakeInode) Readi(dst []byte, offset int) (int, error) {
	if offset >= len(f.Data) {
		return 0, nil
	}
	n := copy(dst, f.Data[offset:])
	return n, nil
}

// FakeFile is an in-memory File.
type FakeFile struct {
	Name string
	refs int
}

func (f *FakeFile) Filedup() File {
	f.refs++
	return f
}

func (f *FakeFile) Fileclose() {
	f.refs--
}

// FakeFS is an in-memory FS: Namei resolves against a flat name table, and
// Iinit/Initlog/BeginOp/EndOp just record that they ran, for tests that
// assert the forkret one-shot late-init contract.
type FakeFS struct {
	Files map[string]*FakeInode

	IinitCalled   bool
	InitlogCalled bool
	opDepth       int
}

func NewFakeFS() *FakeFS {
	return &FakeFS{Files: make(map[string]*FakeInode)}
}

// LoadFakeFS builds a FakeFS from a txtar archive: one named file per
// archive entry, resolvable from Namei by that name. This is the boot
// simulation's stand-in for mounting a real disk image — a single
// human-editable text blob describing every file the fake root holds,
// the same "bundle many named files in one archive" idiom x/tools uses
// for its own test corpora.
func LoadFakeFS(data []byte) *FakeFS {
	fs := NewFakeFS()
	arc := txtar.Parse(data)
	for _, f := range arc.Files {
		fs.Files[f.Name] = &FakeInode{Name: f.Name, Data: f.Data}
	}
	return fs
}

func (f *FakeFS) Iinit()   { f.IinitCalled = true }
func (f *FakeFS) Initlog() { f.InitlogCalled = true }

func (f *FakeFS) Namei(path string) (Inode, error) {
	ip, ok := f.Files[path]
	if !ok {
		return nil, fmt.Errorf("namei: %s: not found", path)
	}
	return ip, nil
}

func (f *FakeFS) BeginOp() { f.opDepth++ }
func (f *FakeFS) EndOp()   { f.opDepth-- }

// FakeConsole collects Cprintf output instead of writing to a real
// console, and turns Panic into a real Go panic so test failures surface
// immediately.
type FakeConsole struct {
	Lines []string
}

func (c *FakeConsole) Cprintf(format string, args ...interface{}) {
	c.Lines = append(c.Lines, fmt.Sprintf(format, args...))
}

func (c *FakeConsole) Panic(msg string) {
	panic(msg)
}

var (
	_ Inode   = (*FakeInode)(nil)
	_ File    = (*FakeFile)(nil)
	_ FS      = (*FakeFS)(nil)
	_ Console = (*FakeConsole)(nil)
)
