//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion must match the onnxruntime_go version fastembed-go
// links against.
const DefaultONNXRuntimeVersion = "1.23.0"

const onnxReleaseURLTemplate = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

// ErrUnsupportedPlatform indicates no prebuilt runtime exists for this OS/arch.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var platformArchives = map[string]map[string]string{
	"linux":  {"amd64": "linux-x64", "arm64": "linux-aarch64"},
	"darwin": {"amd64": "osx-x86_64", "arm64": "osx-arm64"},
}

func getPlatformArchive(goos, goarch string) (string, error) {
	if name, ok := platformArchives[goos][goarch]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func getLibraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// onnxInstallDir is a variable so tests can redirect installs.
var onnxInstallDir = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "shelve", "lib")
}

// GetONNXLibraryPath returns ONNX_PATH when set, else the managed install
// under ~/.config/shelve/lib, else "".
func GetONNXLibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	managed := filepath.Join(onnxInstallDir(), getLibraryName(runtime.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// ONNXRuntimeExists reports whether a runtime library can be found.
func ONNXRuntimeExists() bool {
	return GetONNXLibraryPath() != ""
}

func buildDownloadURL(version, platform string) string {
	return fmt.Sprintf(onnxReleaseURLTemplate, version, platform, version)
}

// DownloadONNXRuntime installs the runtime for this platform into the managed
// directory. An empty version selects DefaultONNXRuntimeVersion.
func DownloadONNXRuntime(ctx context.Context, version string) error {
	if version == "" {
		version = DefaultONNXRuntimeVersion
	}
	platform, err := getPlatformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	destDir := onnxInstallDir()
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildDownloadURL(version, platform), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, version)
	if err := extractLibraries(resp.Body, destDir, prefix, getLibraryName(runtime.GOOS)); err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}
	return nil
}

// extractLibraries copies the regular files and symlinks found under prefix
// in a gzipped tarball into destDir, flattening paths. It fails when libName
// was not among them.
func extractLibraries(r io.Reader, destDir, prefix, libName string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	found := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) || hdr.Typeflag == tar.TypeDir {
			continue
		}
		base := filepath.Base(name)
		dest := filepath.Join(destDir, base)
		isLib := base == libName || strings.HasPrefix(base, libName+".")

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err == nil && isLib {
				found = true
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
			if isLib {
				found = true
			}
		}
	}

	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}

// setONNXPathEnv points onnxruntime_go at the library. Replaced in tests.
var setONNXPathEnv = func(path string) error {
	return os.Setenv("ONNX_PATH", path)
}

// EnsureONNXRuntime returns the library path, downloading the runtime first
// when it is not installed.
func EnsureONNXRuntime(ctx context.Context, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path := GetONNXLibraryPath(); path != "" {
		return path, nil
	}

	logger.Info("ONNX runtime not found, downloading",
		zap.String("version", DefaultONNXRuntimeVersion),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
	)
	if err := DownloadONNXRuntime(ctx, ""); err != nil {
		return "", fmt.Errorf("downloading ONNX runtime: %w (run 'shelve init' or set ONNX_PATH)", err)
	}

	path := GetONNXLibraryPath()
	if path == "" {
		return "", errors.New("ONNX runtime download completed but library not found")
	}
	logger.Info("ONNX runtime installed", zap.String("path", path))
	return path, nil
}
