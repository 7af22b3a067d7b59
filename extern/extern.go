// Package extern names, as Go interfaces, the file-system and console
// collaborators the kernel core consumes but does not implement: inodes,
// open files, the file system/log, and console/panic output. See spec.md
// §1/§6. The syscall demultiplexer's interface is trap.Syscall and the
// local APIC's is apic.Driver; the block-buffer cache and the ELF loader
// have no interface here.
//
// One method per named external function. A Fake implementation backs
// every other package's tests, standing in for the real file system the
// way the teacher's own fs/fd packages were trimmed to pure interfaces at
// their edges.
package extern

// Inode stands in for the out-of-scope on-disk inode layer. Idup/Iput
// manage the reference the process table holds on a process's cwd;
// Readi backs vm.Reader for Loaduvm.
type Inode interface {
	Idup() Inode
	Iput()
	Readi(dst []byte, offset int) (int, error)
}

// File stands in for the out-of-scope open-file abstraction. Filedup/
// Fileclose manage the references held in a process's open-file table.
type File interface {
	Filedup() File
	Fileclose()
}

// FS is the file-system/log subsystem's interface into the core: Namei
// resolves a path to an Inode, Iinit/Initlog perform the one-shot late
// init forkret runs on the very first scheduled process, and
// BeginOp/EndOp bracket a filesystem transaction.
type FS interface {
	Iinit()
	Initlog()
	Namei(path string) (Inode, error)
	BeginOp()
	EndOp()
}

// Console is the out-of-scope console/panic surface: Cprintf for
// formatted kernel output, Panic to abort.
type Console interface {
	Cprintf(format string, args ...interface{})
	Panic(msg string)
}
