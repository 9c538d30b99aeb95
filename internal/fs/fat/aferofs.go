package fat

import (
	"bytes"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// AferoFs exposes a parsed FAT volume as a read-only afero.Fs, so generic
// file-walking code can traverse image payloads without caring about the
// on-disk format. Every mutating method fails with EPERM.
type AferoFs struct {
	fs *Filesystem
}

var _ afero.Fs = (*AferoFs)(nil)

// NewAferoFs wraps a parsed volume.
func NewAferoFs(fs *Filesystem) *AferoFs {
	return &AferoFs{fs: fs}
}

// Name returns the filesystem identifier.
func (a *AferoFs) Name() string { return "fat" }

// resolve walks path components from the root directory and returns the
// matching entry. An empty path resolves to the root directory itself.
func (a *AferoFs) resolve(path string) (*Directory, *FileEntry, error) {
	parts := splitPath(path)
	dir := a.fs.Root
	for i, part := range parts {
		entry, ok := dir.Lookup(part)
		if !ok {
			return nil, nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
		}
		if i == len(parts)-1 {
			return dir, &entry, nil
		}
		if !entry.Attr.IsDir() {
			return nil, nil, &os.PathError{Op: "open", Path: path, Err: syscall.ENOTDIR}
		}
		sub, err := a.fs.ReadDir(entry)
		if err != nil {
			return nil, nil, err
		}
		dir = sub
	}
	return dir, nil, nil
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return parts
}

// Open opens a file or directory for reading.
func (a *AferoFs) Open(name string) (afero.File, error) {
	dir, entry, err := a.resolve(name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// Root directory.
		return &fatFile{name: "/", dir: dir}, nil
	}
	if entry.Attr.IsDir() {
		sub, err := a.fs.ReadDir(*entry)
		if err != nil {
			return nil, err
		}
		return &fatFile{name: name, entry: entry, dir: sub}, nil
	}
	content, err := a.fs.ReadFile(*entry)
	if err != nil {
		return nil, err
	}
	return &fatFile{name: name, entry: entry, reader: bytes.NewReader(content)}, nil
}

// OpenFile opens name; any write flag fails.
func (a *AferoFs) OpenFile(name string, flag int, _ os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EPERM}
	}
	return a.Open(name)
}

// Stat returns file info for name.
func (a *AferoFs) Stat(name string) (os.FileInfo, error) {
	_, entry, err := a.resolve(name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return fileInfo{name: "/", entry: FileEntry{Attr: AttrDirectory}}, nil
	}
	return fileInfo{name: entry.Name, entry: *entry}, nil
}

// Create fails: the volume is read-only.
func (a *AferoFs) Create(name string) (afero.File, error) {
	return nil, &os.PathError{Op: "create", Path: name, Err: syscall.EPERM}
}

// Mkdir fails: the volume is read-only.
func (a *AferoFs) Mkdir(name string, _ os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: syscall.EPERM}
}

// MkdirAll fails: the volume is read-only.
func (a *AferoFs) MkdirAll(name string, _ os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: syscall.EPERM}
}

// Remove fails: the volume is read-only.
func (a *AferoFs) Remove(name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: syscall.EPERM}
}

// RemoveAll fails: the volume is read-only.
func (a *AferoFs) RemoveAll(name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: syscall.EPERM}
}

// Rename fails: the volume is read-only.
func (a *AferoFs) Rename(oldname, newname string) error {
	return &os.PathError{Op: "rename", Path: oldname, Err: syscall.EPERM}
}

// Chmod fails: the volume is read-only.
func (a *AferoFs) Chmod(name string, _ os.FileMode) error {
	return &os.PathError{Op: "chmod", Path: name, Err: syscall.EPERM}
}

// Chown fails: the volume is read-only.
func (a *AferoFs) Chown(name string, _, _ int) error {
	return &os.PathError{Op: "chown", Path: name, Err: syscall.EPERM}
}

// Chtimes fails: the volume is read-only.
func (a *AferoFs) Chtimes(name string, _, _ time.Time) error {
	return &os.PathError{Op: "chtimes", Path: name, Err: syscall.EPERM}
}

// fatFile backs an open file with an in-memory copy of its cluster chain,
// or with the decoded table for directories.
type fatFile struct {
	name   string
	entry  *FileEntry
	reader *bytes.Reader
	dir    *Directory

	readdirPos int
}

var _ afero.File = (*fatFile)(nil)

func (f *fatFile) Name() string { return f.name }

func (f *fatFile) Close() error { return nil }

func (f *fatFile) Read(p []byte) (int, error) {
	if f.reader == nil {
		return 0, &os.PathError{Op: "read", Path: f.name, Err: syscall.EISDIR}
	}
	return f.reader.Read(p)
}

func (f *fatFile) ReadAt(p []byte, off int64) (int, error) {
	if f.reader == nil {
		return 0, &os.PathError{Op: "read", Path: f.name, Err: syscall.EISDIR}
	}
	return f.reader.ReadAt(p, off)
}

func (f *fatFile) Seek(offset int64, whence int) (int64, error) {
	if f.reader == nil {
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: syscall.EISDIR}
	}
	return f.reader.Seek(offset, whence)
}

func (f *fatFile) Stat() (os.FileInfo, error) {
	if f.entry == nil {
		return fileInfo{name: "/", entry: FileEntry{Attr: AttrDirectory}}, nil
	}
	return fileInfo{name: f.entry.Name, entry: *f.entry}, nil
}

func (f *fatFile) Readdir(count int) ([]os.FileInfo, error) {
	if f.dir == nil {
		return nil, &os.PathError{Op: "readdir", Path: f.name, Err: syscall.ENOTDIR}
	}
	files := f.dir.Files[f.readdirPos:]
	if count > 0 && count < len(files) {
		files = files[:count]
	}
	f.readdirPos += len(files)
	infos := make([]os.FileInfo, len(files))
	for i, e := range files {
		infos[i] = fileInfo{name: e.Name, entry: e}
	}
	return infos, nil
}

func (f *fatFile) Readdirnames(count int) ([]string, error) {
	infos, err := f.Readdir(count)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, fi := range infos {
		names[i] = fi.Name()
	}
	return names, nil
}

func (f *fatFile) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.name, Err: syscall.EPERM}
}

func (f *fatFile) WriteAt(p []byte, off int64) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.name, Err: syscall.EPERM}
}

func (f *fatFile) WriteString(s string) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.name, Err: syscall.EPERM}
}

func (f *fatFile) Truncate(int64) error {
	return &os.PathError{Op: "truncate", Path: f.name, Err: syscall.EPERM}
}

func (f *fatFile) Sync() error { return nil }

// fileInfo adapts a directory entry to os.FileInfo.
type fileInfo struct {
	name  string
	entry FileEntry
}

func (fi fileInfo) Name() string { return fi.name }

func (fi fileInfo) Size() int64 { return int64(fi.entry.Size) }

func (fi fileInfo) Mode() os.FileMode {
	mode := os.FileMode(0o444)
	if fi.entry.Attr.IsDir() {
		mode |= os.ModeDir | 0o111
	}
	if fi.entry.Attr&AttrReadOnly == 0 {
		mode |= 0o200
	}
	return mode
}

func (fi fileInfo) ModTime() time.Time { return fi.entry.Modified }

func (fi fileInfo) IsDir() bool { return fi.entry.Attr.IsDir() }

func (fi fileInfo) Sys() interface{} { return nil }
