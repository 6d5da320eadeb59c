// Package extract materialises downloaded archives into a staging directory.
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"pyvm/internal/errkind"
)

// Extractor writes the contents of an archive stream below dest.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, dest string) error
}

// ForName picks an extractor from the artifact file name.
func ForName(name string, strip int) (Extractor, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return ZipExtractor{StripComponents: strip}, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return TarGzExtractor{StripComponents: strip}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported archive format for %s", errkind.ErrCorruptArchive, name)
	}
}

// ZipExtractor handles zip archives. Streams that are not files are spooled to
// a temporary file first since zip needs random access.
type ZipExtractor struct {
	StripComponents int
}

func (z ZipExtractor) Extract(ctx context.Context, r io.Reader, dest string) error {
	ra, size, cleanup, err := readerAt(r, dest)
	if err != nil {
		return err
	}
	defer cleanup()

	reader, err := zip.NewReader(ra, size)
	if err != nil {
		return fmt.Errorf("%w: open zip: %w", errkind.ErrCorruptArchive, err)
	}
	g, err := newGuard(dest)
	if err != nil {
		return err
	}

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, ok, err := entryTarget(dest, file.Name, z.StripComponents)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := g.checkParent(target); err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errkind.Classify("create dir "+target, err)
			}
			continue
		}
		if err := g.checkLeaf(target); err != nil {
			return err
		}
		if err := writeZipEntry(file, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errkind.Classify("prepare file "+target, err)
	}
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: open zip entry %s: %w", errkind.ErrCorruptArchive, file.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode(file.Mode()))
	if err != nil {
		return errkind.Classify("create file "+target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: copy zip entry %s: %w", errkind.ErrCorruptArchive, file.Name, err)
		}
		return errkind.Classify("copy file "+target, err)
	}
	if err := out.Close(); err != nil {
		return errkind.Classify("close file "+target, err)
	}
	return nil
}

// TarGzExtractor streams gzip-compressed tar archives.
type TarGzExtractor struct {
	StripComponents int
}

func (t TarGzExtractor) Extract(ctx context.Context, r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: gzip reader: %w", errkind.ErrCorruptArchive, err)
	}
	defer gz.Close()

	g, err := newGuard(dest)
	if err != nil {
		return err
	}
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read tar header: %w", errkind.ErrCorruptArchive, err)
		}
		target, ok, err := entryTarget(dest, header.Name, t.StripComponents)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := g.checkParent(target); err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errkind.Classify("create dir "+target, err)
			}
		case tar.TypeReg:
			if err := g.checkLeaf(target); err != nil {
				return err
			}
			if err := writeTarEntry(tr, target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := g.symlink(target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			if err := g.hardlink(target, header.Linkname, t.StripComponents); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
			// pax global headers carry no file.
		default:
			return fmt.Errorf("%w: entry %q has unsupported type %q", errkind.ErrCorruptArchive, header.Name, header.Typeflag)
		}
	}
}

func writeTarEntry(tr *tar.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errkind.Classify("prepare file "+target, err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode(mode))
	if err != nil {
		return errkind.Classify("create file "+target, err)
	}
	if _, err := io.Copy(out, tr); err != nil {
		out.Close()
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, gzip.ErrChecksum) || errors.Is(err, tar.ErrHeader) {
			return fmt.Errorf("%w: write file %s: %w", errkind.ErrCorruptArchive, target, err)
		}
		return errkind.Classify("write file "+target, err)
	}
	if err := out.Close(); err != nil {
		return errkind.Classify("close file "+target, err)
	}
	return nil
}

// guard keeps writes below dest as it exists on disk, including through
// symlinks created by earlier entries of the same archive.
type guard struct {
	dest string
	root string
}

func newGuard(dest string) (*guard, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errkind.Classify("create dir "+dest, err)
	}
	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return nil, errkind.Classify("resolve "+dest, err)
	}
	return &guard{dest: filepath.Clean(dest), root: root}, nil
}

// checkParent resolves the deepest existing ancestor of target and fails
// when it lies outside dest. A dangling symlink on the way is refused.
func (g *guard) checkParent(target string) error {
	dir := filepath.Dir(target)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if !within(g.root, resolved) {
				return fmt.Errorf("%w: %s resolves outside destination", errkind.ErrCorruptArchive, target)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return errkind.Classify("resolve "+dir, err)
		}
		if info, lerr := os.Lstat(dir); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s passes through dangling link %s", errkind.ErrCorruptArchive, target, dir)
		}
		parent := filepath.Dir(dir)
		if dir == g.dest || parent == dir {
			return nil
		}
		dir = parent
	}
}

// checkLeaf refuses to write a file through a symlink already at target.
func (g *guard) checkLeaf(target string) error {
	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errkind.Classify("stat "+target, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: entry %s overwrites a link", errkind.ErrCorruptArchive, target)
	}
	return nil
}

func (g *guard) symlink(target, linkname string) error {
	if linkname == "" || filepath.IsAbs(linkname) || path.IsAbs(linkname) || filepath.VolumeName(linkname) != "" {
		return fmt.Errorf("%w: symlink %s has absolute or empty target %q", errkind.ErrCorruptArchive, target, linkname)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errkind.Classify("prepare link "+target, err)
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(target))
	if err != nil {
		return errkind.Classify("resolve "+filepath.Dir(target), err)
	}
	if !within(g.root, filepath.Join(parent, filepath.FromSlash(linkname))) {
		return fmt.Errorf("%w: symlink %s escapes destination", errkind.ErrCorruptArchive, linkname)
	}
	if err := g.replaceable(target); err != nil {
		return err
	}
	if err := os.Symlink(linkname, target); err != nil {
		return errkind.Classify("create link "+target, err)
	}
	return nil
}

// hardlink recreates a tar hard link. linkname names an earlier entry of the
// archive and is stripped like any other entry name.
func (g *guard) hardlink(target, linkname string, strip int) error {
	source, ok, err := entryTarget(g.dest, linkname, strip)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: hard link %s points at stripped entry %q", errkind.ErrCorruptArchive, target, linkname)
	}
	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: hard link %s points at missing entry %q", errkind.ErrCorruptArchive, target, linkname)
		}
		return errkind.Classify("resolve "+source, err)
	}
	if !within(g.root, resolved) {
		return fmt.Errorf("%w: hard link %s escapes destination", errkind.ErrCorruptArchive, linkname)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return errkind.Classify("stat "+resolved, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: hard link %s points at non-file %q", errkind.ErrCorruptArchive, target, linkname)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errkind.Classify("prepare link "+target, err)
	}
	if err := g.replaceable(target); err != nil {
		return err
	}
	if err := os.Link(resolved, target); err != nil {
		return errkind.Classify("create link "+target, err)
	}
	return nil
}

// replaceable clears a previous non-directory entry at target.
func (g *guard) replaceable(target string) error {
	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errkind.Classify("stat "+target, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: link %s replaces a directory", errkind.ErrCorruptArchive, target)
	}
	if err := os.Remove(target); err != nil {
		return errkind.Classify("replace "+target, err)
	}
	return nil
}

// entryTarget resolves an archive entry name below dest. ok is false for
// entries consumed entirely by strip.
func entryTarget(dest, name string, strip int) (string, bool, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", false, fmt.Errorf("%w: entry %q escapes destination", errkind.ErrCorruptArchive, name)
	}
	if clean == "." {
		return "", false, nil
	}
	parts := strings.Split(clean, "/")
	if len(parts) <= strip {
		return "", false, nil
	}
	target := filepath.Join(dest, filepath.FromSlash(strings.Join(parts[strip:], "/")))
	if !within(dest, target) {
		return "", false, fmt.Errorf("%w: entry %q escapes destination", errkind.ErrCorruptArchive, name)
	}
	return target, true, nil
}

func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func fileMode(mode os.FileMode) os.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		return 0o644
	}
	return perm | 0o600
}

func readerAt(r io.Reader, dest string) (io.ReaderAt, int64, func(), error) {
	if f, ok := r.(*os.File); ok {
		info, err := f.Stat()
		if err == nil && info.Mode().IsRegular() {
			return f, info.Size(), func() {}, nil
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "spool-*.zip")
	if err != nil {
		return nil, 0, nil, errkind.Classify("create spool file", err)
	}
	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	size, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return nil, 0, nil, errkind.Classify("spool archive", err)
	}
	return tmp, size, cleanup, nil
}
