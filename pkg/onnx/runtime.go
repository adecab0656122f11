package onnx

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/multierr"
)

// LibPathEnv overrides every other way of locating the ONNX Runtime library.
const LibPathEnv = "SPEAKERPRINT_ORT_LIB"

const (
	releaseURL     = "https://github.com/microsoft/onnxruntime/releases/download/"
	target         = "onnxruntime"
	DefaultVersion = "1.22.0"
)

// Runtime locates and downloads prebuilt ONNX Runtime releases.
type Runtime struct {
	Version string
	// Dir holds unpacked releases, one directory per platform and version.
	Dir     string
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

func DefaultRuntime() Runtime {
	home, _ := os.UserHomeDir()
	return Runtime{
		Version: DefaultVersion,
		Dir:     filepath.Join(home, ".local", "lib"),
		BaseURL: releaseURL,
	}
}

func (r Runtime) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r Runtime) version() string {
	if r.Version == "" {
		return DefaultVersion
	}
	return r.Version
}

// LibPath is where the shared library of this release lives once unpacked.
func (r Runtime) LibPath() (string, error) {
	dist, arch, err := platform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}
	v := r.version()
	return filepath.Join(r.Dir, fmt.Sprintf("%s-%s-%s-%s", target, dist, arch, v), "lib", libName(dist, v)), nil
}

// ArchiveURL is the release tarball for the running platform.
func (r Runtime) ArchiveURL() (string, error) {
	dist, arch, err := platform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}
	base := r.BaseURL
	if base == "" {
		base = releaseURL
	}
	v := r.version()
	return fmt.Sprintf("%sv%s/%s-%s-%s-%s.tgz", base, v, target, dist, arch, v), nil
}

// Fetch downloads and unpacks the release unless the library is already
// present, and returns the library path.
func (r Runtime) Fetch(ctx context.Context) (string, error) {
	libPath, err := r.LibPath()
	if err != nil {
		return "", err
	}
	if _, err = os.Stat(libPath); err == nil {
		r.logger().Debug("onnx runtime already present", "path", libPath)
		return libPath, nil
	}
	url, err := r.ArchiveURL()
	if err != nil {
		return "", err
	}
	r.logger().Info("downloading onnx runtime", "url", url, "dir", r.Dir)
	if err = r.download(ctx, url); err != nil {
		return "", fmt.Errorf("failed to download onnx runtime: %w", err)
	}
	if _, err = os.Stat(libPath); err != nil {
		return "", fmt.Errorf("archive %s did not contain %s: %w", url, libPath, err)
	}
	return libPath, nil
}

// ResolveLibPath picks the library to load: an explicit path, then
// $SPEAKERPRINT_ORT_LIB, then the unpacked release of rt.
func ResolveLibPath(explicit string, rt Runtime) (string, error) {
	for _, candidate := range []struct{ src, path string }{
		{"config", explicit},
		{LibPathEnv, os.Getenv(LibPathEnv)},
	} {
		if candidate.path == "" {
			continue
		}
		info, err := os.Stat(candidate.path)
		if err != nil {
			return "", fmt.Errorf("onnx runtime from %s %q: %w", candidate.src, candidate.path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("onnx runtime from %s %q is a directory, expected a file", candidate.src, candidate.path)
		}
		return candidate.path, nil
	}
	libPath, err := rt.LibPath()
	if err != nil {
		return "", err
	}
	if _, err = os.Stat(libPath); err != nil {
		return "", fmt.Errorf("onnx runtime not found at %s (run fetch-runtime or set %s): %w", libPath, LibPathEnv, err)
	}
	return libPath, nil
}

func platform(goos, goarch string) (dist, arch string, err error) {
	switch goos {
	case "darwin":
		dist = "osx"
	case "linux":
		dist = "linux"
	default:
		return "", "", fmt.Errorf("OS '%s' is not supported", goos)
	}
	switch goarch {
	case "arm64":
		if dist == "linux" {
			arch = "aarch64"
		} else {
			arch = "arm64"
		}
	case "amd64":
		if dist == "linux" {
			arch = "x64"
		} else {
			arch = "x86_64"
		}
	default:
		return "", "", fmt.Errorf("architecture '%s' is not supported", goarch)
	}
	return dist, arch, nil
}

func libName(dist, version string) string {
	if dist == "osx" {
		return fmt.Sprintf("lib%s.%s.dylib", target, version)
	}
	return fmt.Sprintf("lib%s.so.%s", target, version)
}

func (r Runtime) download(ctx context.Context, url string) (err error) {
	if err = os.MkdirAll(r.Dir, 0o755); err != nil {
		return err
	}
	tgz, err := os.CreateTemp(r.Dir, r.version()+"-*.tgz")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, os.Remove(tgz.Name()))
	}()
	if err = r.get(ctx, url, tgz); err != nil {
		return multierr.Append(err, tgz.Close())
	}
	if err = tgz.Close(); err != nil {
		return err
	}
	return unpackArchive(tgz.Name(), r.Dir)
}

func (r Runtime) get(ctx context.Context, url string, w io.Writer) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer func() {
		err = multierr.Append(err, resp.Body.Close())
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status code %d for %s", resp.StatusCode, url)
	}
	if _, err = io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

func unpackArchive(tgzPath, dst string) (err error) {
	file, err := os.Open(tgzPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", tgzPath, err)
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()
	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to read gzip archive: %w", err)
	}
	defer func() {
		err = multierr.Append(err, gzReader.Close())
	}()
	base := filepath.Clean(dst)
	root := base + string(os.PathSeparator)
	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar archive: %w", err)
		}
		targetPath := filepath.Join(dst, header.Name)
		if targetPath != base && !strings.HasPrefix(targetPath, root) {
			return fmt.Errorf("archive entry %q escapes %s", header.Name, dst)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(targetPath, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeSymlink:
			// release tarballs link libonnxruntime.so -> libonnxruntime.so.<version>
			if err = os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}
			_ = os.Remove(targetPath)
			if err = os.Symlink(header.Linkname, targetPath); err != nil {
				return fmt.Errorf("failed to create symlink: %w", err)
			}
		case tar.TypeReg:
			if err = writeFile(targetPath, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0o600)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()
	if _, err = io.Copy(out, r); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
