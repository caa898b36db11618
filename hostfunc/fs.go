package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows writes to existing files.
	MountReadWrite
	// MountReadWriteCreate also allows creating files and directories.
	MountReadWriteCreate
)

func (m MountMode) String() string {
	switch m {
	case MountReadOnly:
		return "ro"
	case MountReadWrite:
		return "rw"
	case MountReadWriteCreate:
		return "rwc"
	}
	return fmt.Sprintf("MountMode(%d)", int(m))
}

// DefaultMaxFileSize caps reads and writes made through an FS.
const DefaultMaxFileSize = 10 << 20 // 10MB

var (
	ErrPathRequired = errors.New("path required")
	ErrNotMounted   = errors.New("permission denied: path not in any mount")
	ErrReadOnly     = errors.New("permission denied: read-only mount")
	ErrNoCreate     = errors.New("permission denied: mount does not allow creation")
	ErrPathEscape   = errors.New("permission denied: path escapes mount")
)

// Mount maps a virtual path to a host directory.
type Mount struct {
	VirtualPath string    // path as scripts see it, e.g. "/data"
	HostPath    string    // directory on the host
	Mode        MountMode // permission level
}

// ParseMount parses "virtual:host[:mode]" where mode is ro, rw or rwc.
// The mode defaults to ro.
func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host[:mode])", spec)
	}

	mode := MountReadOnly
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			mode = MountReadOnly
		case "rw":
			mode = MountReadWrite
		case "rwc":
			mode = MountReadWriteCreate
		default:
			return Mount{}, fmt.Errorf("invalid mount mode %q (expected ro, rw, or rwc)", parts[2])
		}
	}

	return Mount{VirtualPath: parts[0], HostPath: parts[1], Mode: mode}, nil
}

// FS exposes host directories to scripts through explicit mount points.
// It also serves as the source reader of a loader, so module files can be
// confined to the same mounts.
type FS struct {
	mounts      []Mount
	maxFileSize int64
	mu          sync.RWMutex
}

// NewFS creates a filesystem over mounts. Mounts whose host path cannot be
// made absolute are skipped.
func NewFS(mounts ...Mount) *FS {
	normalized := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			continue
		}
		normalized = append(normalized, Mount{
			VirtualPath: "/" + strings.Trim(filepath.ToSlash(m.VirtualPath), "/"),
			HostPath:    hp,
			Mode:        m.Mode,
		})
	}
	return &FS{mounts: normalized, maxFileSize: DefaultMaxFileSize}
}

// SetMaxFileSize changes the size cap. n <= 0 restores the default.
func (f *FS) SetMaxFileSize(n int64) {
	if n <= 0 {
		n = DefaultMaxFileSize
	}
	f.mu.Lock()
	f.maxFileSize = n
	f.mu.Unlock()
}

func (f *FS) Mounts() []Mount {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Mount(nil), f.mounts...)
}

// Register adds read, write, list, exists, stat, mkdir and remove to reg.
func (f *FS) Register(reg *Registry) {
	reg.Register("read", f.Read)
	reg.Register("write", f.Write)
	reg.Register("list", f.List)
	reg.Register("exists", f.Exists)
	reg.Register("stat", f.Stat)
	reg.Register("mkdir", f.Mkdir)
	reg.Register("remove", f.Remove)
}

// findMount returns the mount holding virtualPath and the cleaned path.
func (f *FS) findMount(virtualPath string) (Mount, string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	vp := filepath.ToSlash(filepath.Clean("/" + strings.TrimPrefix(filepath.ToSlash(virtualPath), "/")))

	// Longest prefix wins so nested mounts override their parents.
	var (
		best  Mount
		found bool
	)
	for _, m := range f.mounts {
		if m.VirtualPath == "/" || vp == m.VirtualPath || strings.HasPrefix(vp, m.VirtualPath+"/") {
			if !found || len(m.VirtualPath) > len(best.VirtualPath) {
				best, found = m, true
			}
		}
	}
	return best, vp, found
}

// resolve maps a virtual path to a host path, checking permissions.
func (f *FS) resolve(virtualPath string, needWrite bool) (string, Mount, error) {
	m, vp, ok := f.findMount(virtualPath)
	if !ok {
		return "", Mount{}, ErrNotMounted
	}
	if needWrite && m.Mode == MountReadOnly {
		return "", Mount{}, ErrReadOnly
	}

	rel := strings.TrimPrefix(vp, m.VirtualPath)
	hostPath := filepath.Join(m.HostPath, filepath.FromSlash(rel))
	if hostPath != m.HostPath && !strings.HasPrefix(hostPath, m.HostPath+string(filepath.Separator)) {
		return "", Mount{}, ErrPathEscape
	}
	return hostPath, m, nil
}

// ReadFile reads a file by its virtual path. Paths outside every mount
// report fs.ErrNotExist.
func (f *FS) ReadFile(name string) ([]byte, error) {
	hostPath, _, err := f.resolve(name, false)
	if err != nil {
		if errors.Is(err, ErrNotMounted) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if err := f.checkSize(hostPath); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return os.ReadFile(hostPath)
}

func (f *FS) checkSize(hostPath string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}
	f.mu.RLock()
	limit := f.maxFileSize
	f.mu.RUnlock()
	if info.Size() > limit {
		return fmt.Errorf("file exceeds %d bytes", limit)
	}
	return nil
}

// Read returns the contents of args.path as a string.
func (f *FS) Read(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, ErrPathRequired
	}

	data, err := f.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, err
	}
	return string(data), nil
}

// Write replaces the contents of args.path with args.content.
func (f *FS) Write(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, ErrPathRequired
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, errors.New("content required")
	}

	hostPath, m, err := f.resolve(path, true)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	limit := f.maxFileSize
	f.mu.RUnlock()
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("content exceeds %d bytes", limit)
	}
	if _, statErr := os.Stat(hostPath); errors.Is(statErr, fs.ErrNotExist) && m.Mode != MountReadWriteCreate {
		return nil, ErrNoCreate
	}

	if err := os.WriteFile(hostPath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// List returns the entries of the directory args.path.
func (f *FS) List(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, ErrPathRequired
	}

	hostPath, _, err := f.resolve(path, false)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	result := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"name":  entry.Name(),
			"isDir": entry.IsDir(),
		}
		if info, err := entry.Info(); err == nil {
			item["size"] = info.Size()
		}
		result = append(result, item)
	}
	return result, nil
}

// Exists reports whether args.path exists. Unmounted paths do not exist.
func (f *FS) Exists(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, ErrPathRequired
	}

	hostPath, _, err := f.resolve(path, false)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(hostPath)
	return err == nil, nil
}

// Stat describes args.path.
func (f *FS) Stat(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, ErrPathRequired
	}

	hostPath, _, err := f.resolve(path, false)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return map[string]any{
		"name":    info.Name(),
		"size":    info.Size(),
		"isDir":   info.IsDir(),
		"modTime": info.ModTime().Unix(),
	}, nil
}

// Mkdir creates args.path and any missing parents.
func (f *FS) Mkdir(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, ErrPathRequired
	}

	hostPath, m, err := f.resolve(path, true)
	if err != nil {
		return nil, err
	}
	if m.Mode != MountReadWriteCreate {
		return nil, ErrNoCreate
	}

	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path, err)
	}
	return true, nil
}

// Remove deletes a file or empty directory.
func (f *FS) Remove(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, ErrPathRequired
	}

	hostPath, m, err := f.resolve(path, true)
	if err != nil {
		return nil, err
	}
	if hostPath == m.HostPath {
		return nil, errors.New("permission denied: cannot remove mount root")
	}

	if err := os.Remove(hostPath); err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("file not found: %s", path)
		case errors.Is(err, syscall.ENOTEMPTY), errors.Is(err, syscall.EEXIST):
			return nil, fmt.Errorf("directory not empty: %s", path)
		}
		return nil, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}
