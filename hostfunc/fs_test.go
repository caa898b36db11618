package hostfunc

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseMount(t *testing.T) {
	tests := []struct {
		spec    string
		want    Mount
		wantErr bool
	}{
		{"/data:./input", Mount{"/data", "./input", MountReadOnly}, false},
		{"/data:./input:ro", Mount{"/data", "./input", MountReadOnly}, false},
		{"/out:/tmp/out:rw", Mount{"/out", "/tmp/out", MountReadWrite}, false},
		{"/ws:/tmp/ws:rwc", Mount{"/ws", "/tmp/ws", MountReadWriteCreate}, false},
		{"/data", Mount{}, true},
		{"/data:./input:wx", Mount{}, true},
		{":./input:ro", Mount{}, true},
		{"a:b:c:d", Mount{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseMount(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFSReadOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "test.txt"), "hello world")

	fsys := NewFS(Mount{VirtualPath: "/data", HostPath: dir, Mode: MountReadOnly})
	ctx := context.Background()

	content, err := fsys.Read(ctx, map[string]any{"path": "/data/test.txt"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if content != "hello world" {
		t.Errorf("expected 'hello world', got %q", content)
	}

	_, err = fsys.Write(ctx, map[string]any{"path": "/data/test.txt", "content": "modified"})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	_, err = fsys.Remove(ctx, map[string]any{"path": "/data/test.txt"})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly on remove, got %v", err)
	}
}

func TestFSReadWrite(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "test.txt")
	writeFile(t, testFile, "original")

	fsys := NewFS(Mount{VirtualPath: "/output", HostPath: dir, Mode: MountReadWrite})
	ctx := context.Background()

	if _, err := fsys.Write(ctx, map[string]any{"path": "/output/test.txt", "content": "modified"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if content, _ := os.ReadFile(testFile); string(content) != "modified" {
		t.Errorf("expected 'modified', got %q", content)
	}

	_, err := fsys.Write(ctx, map[string]any{"path": "/output/new.txt", "content": "new"})
	if !errors.Is(err, ErrNoCreate) {
		t.Errorf("expected ErrNoCreate, got %v", err)
	}
	_, err = fsys.Mkdir(ctx, map[string]any{"path": "/output/sub"})
	if !errors.Is(err, ErrNoCreate) {
		t.Errorf("expected ErrNoCreate on mkdir, got %v", err)
	}
}

func TestFSReadWriteCreate(t *testing.T) {
	dir := t.TempDir()
	fsys := NewFS(Mount{VirtualPath: "/workspace", HostPath: dir, Mode: MountReadWriteCreate})
	ctx := context.Background()

	if _, err := fsys.Mkdir(ctx, map[string]any{"path": "/workspace/sub/deeper"}); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if _, err := fsys.Write(ctx, map[string]any{"path": "/workspace/sub/new.txt", "content": "created"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if content, _ := os.ReadFile(filepath.Join(dir, "sub", "new.txt")); string(content) != "created" {
		t.Errorf("expected 'created', got %q", content)
	}

	_, err := fsys.Remove(ctx, map[string]any{"path": "/workspace/sub"})
	if err == nil || !strings.Contains(err.Error(), "not empty") {
		t.Errorf("expected directory not empty error, got %v", err)
	}
	_, err = fsys.Remove(ctx, map[string]any{"path": "/workspace"})
	if err == nil {
		t.Error("expected removing the mount root to fail")
	}
}

func TestFSListStatExists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "file1.txt"), "1")
	writeFile(t, filepath.Join(dir, "file2.txt"), "hello")
	os.Mkdir(filepath.Join(dir, "subdir"), 0o755)

	fsys := NewFS(Mount{VirtualPath: "/data", HostPath: dir})
	ctx := context.Background()

	result, err := fsys.List(ctx, map[string]any{"path": "/data"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	names := make(map[string]bool)
	for _, e := range result.([]map[string]any) {
		names[e["name"].(string)] = e["isDir"].(bool)
	}
	if len(names) != 3 || !names["subdir"] || names["file1.txt"] {
		t.Errorf("unexpected entries: %v", names)
	}

	st, err := fsys.Stat(ctx, map[string]any{"path": "/data/file2.txt"})
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	stat := st.(map[string]any)
	if stat["name"] != "file2.txt" || stat["size"].(int64) != 5 || stat["isDir"].(bool) {
		t.Errorf("unexpected stat: %v", stat)
	}

	for path, want := range map[string]bool{
		"/data/file1.txt": true,
		"/data/nope.txt":  false,
		"/etc/passwd":     false,
	} {
		got, _ := fsys.Exists(ctx, map[string]any{"path": path})
		if got != want {
			t.Errorf("Exists(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestFSConfinement(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, "inner")
	os.Mkdir(inner, 0o755)
	writeFile(t, filepath.Join(dir, "secret.txt"), "secret")

	fsys := NewFS(Mount{VirtualPath: "/data", HostPath: inner})
	ctx := context.Background()

	for _, path := range []string{"/data/../secret.txt", "/etc/passwd", "/datax/secret.txt"} {
		if _, err := fsys.Read(ctx, map[string]any{"path": path}); err == nil {
			t.Errorf("expected read of %s to fail", path)
		}
	}
	if _, err := fsys.Read(ctx, map[string]any{}); !errors.Is(err, ErrPathRequired) {
		t.Errorf("expected ErrPathRequired, got %v", err)
	}
}

func TestFSReadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mod.js"), "module.exports = 1")
	writeFile(t, filepath.Join(dir, "big.js"), strings.Repeat("x", 64))

	fsys := NewFS(Mount{VirtualPath: "/src", HostPath: dir})
	fsys.SetMaxFileSize(32)

	data, err := fsys.ReadFile("/src/mod.js")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "module.exports = 1" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := fsys.ReadFile("/src/missing.js"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist for missing file, got %v", err)
	}
	if _, err := fsys.ReadFile("/elsewhere/mod.js"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist outside mounts, got %v", err)
	}
	if _, err := fsys.ReadFile("/src/big.js"); err == nil {
		t.Error("expected size limit to reject big.js")
	}
}

func TestFSNestedMounts(t *testing.T) {
	outer, inner := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(outer, "a.txt"), "outer")
	writeFile(t, filepath.Join(inner, "a.txt"), "inner")

	fsys := NewFS(
		Mount{VirtualPath: "/", HostPath: outer},
		Mount{VirtualPath: "/lib", HostPath: inner},
	)

	for path, want := range map[string]string{"/a.txt": "outer", "/lib/a.txt": "inner"} {
		data, err := fsys.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", path, err)
		}
		if string(data) != want {
			t.Errorf("ReadFile(%s) = %q, want %q", path, data, want)
		}
	}
}
