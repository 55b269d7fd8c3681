//go:build cgo

package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPlatformArchive(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"linux", "amd64", "linux-x64"},
		{"linux", "arm64", "linux-aarch64"},
		{"darwin", "amd64", "osx-x86_64"},
		{"darwin", "arm64", "osx-arm64"},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := getPlatformArchive(tt.goos, tt.goarch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := getPlatformArchive("windows", "amd64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestGetLibraryName(t *testing.T) {
	assert.Equal(t, "libonnxruntime.so", getLibraryName("linux"))
	assert.Equal(t, "libonnxruntime.dylib", getLibraryName("darwin"))
}

func TestBuildDownloadURL(t *testing.T) {
	assert.Equal(t,
		"https://github.com/microsoft/onnxruntime/releases/download/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz",
		buildDownloadURL("1.23.0", "linux-x64"))
}

type tarEntry struct {
	name, body, link string
}

func buildTarball(t *testing.T, entries []tarEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644}
		switch {
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.link == "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func TestExtractLibraries(t *testing.T) {
	const prefix = "onnxruntime-linux-x64-1.23.0/lib/"
	dest := t.TempDir()
	archive := buildTarball(t, []tarEntry{
		{name: "./onnxruntime-linux-x64-1.23.0/README.md", body: "docs"},
		{name: prefix + "libonnxruntime.so.1.23.0", body: "ELF"},
		{name: prefix + "libonnxruntime.so", link: "libonnxruntime.so.1.23.0"},
	})

	require.NoError(t, extractLibraries(archive, dest, prefix, "libonnxruntime.so"))

	data, err := os.ReadFile(filepath.Join(dest, "libonnxruntime.so"))
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(data))
	assert.NoFileExists(t, filepath.Join(dest, "README.md"))
}

func TestExtractLibraries_MissingLibrary(t *testing.T) {
	archive := buildTarball(t, []tarEntry{{name: "other/lib/libfoo.so", body: "x"}})
	err := extractLibraries(archive, t.TempDir(), "other/lib/", "libonnxruntime.so")
	assert.ErrorContains(t, err, "not found in archive")
}

func TestGetONNXLibraryPath(t *testing.T) {
	dir := t.TempDir()
	orig := onnxInstallDir
	onnxInstallDir = func() string { return dir }
	t.Cleanup(func() { onnxInstallDir = orig })

	t.Setenv("ONNX_PATH", "")
	assert.Empty(t, GetONNXLibraryPath())
	assert.False(t, ONNXRuntimeExists())

	lib := filepath.Join(dir, getLibraryName(runtime.GOOS))
	require.NoError(t, os.WriteFile(lib, []byte("x"), 0644))
	assert.Equal(t, lib, GetONNXLibraryPath())

	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", GetONNXLibraryPath())
}
