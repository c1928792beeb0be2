// Package archive writes the deployable zip archives.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fnpack/internal/selector"
)

// Writer creates one archive from an ordered list of files
type Writer interface {
	WriteArchive(ctx context.Context, dest string, files []selector.CandidateFile, useNativeTool bool) error
}

// modTime is stamped on every entry so that archives of unchanged inputs are
// byte-identical. Zip timestamps cannot go below 1980.
var modTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// ZipWriter writes zip archives in process, or with the zip binary when the
// native tool is requested
type ZipWriter struct {
	// ZipBinary defaults to "zip"
	ZipBinary string
}

// NewZipWriter creates a zip writer
func NewZipWriter() *ZipWriter {
	return &ZipWriter{ZipBinary: "zip"}
}

// WriteArchive writes files to dest in the given order. Entries with a local
// path seen before are skipped.
func (w *ZipWriter) WriteArchive(ctx context.Context, dest string, files []selector.CandidateFile, useNativeTool bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	files = dedupe(files)

	log.Debug().
		Str("archive", dest).
		Int("files", len(files)).
		Bool("native", useNativeTool).
		Msg("Writing archive")

	if useNativeTool {
		return w.writeNative(ctx, dest, files)
	}
	return writeZip(ctx, dest, files)
}

func writeZip(ctx context.Context, dest string, files []selector.CandidateFile) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, f); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, f selector.CandidateFile) error {
	info, err := os.Stat(f.RootPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", f.RootPath, err)
	}

	header := &zip.FileHeader{
		Name:     f.LocalPath,
		Method:   zip.Deflate,
		Modified: modTime,
	}
	header.SetMode(normalizeMode(info.Mode()))

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create entry %s: %w", f.LocalPath, err)
	}

	src, err := os.Open(f.RootPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.RootPath, err)
	}
	defer src.Close()

	if _, err := io.Copy(writer, src); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", f.LocalPath, err)
	}
	return nil
}

// normalizeMode keeps only the executable bit
func normalizeMode(mode os.FileMode) os.FileMode {
	if mode&0111 != 0 {
		return 0755
	}
	return 0644
}

// writeNative stages the files under their local paths and zips the staging
// directory with an explicit file list, so the entry order is ours
func (w *ZipWriter) writeNative(ctx context.Context, dest string, files []selector.CandidateFile) error {
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dest, err)
	}

	stage, err := os.MkdirTemp("", "fnpack-zip-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	var list strings.Builder
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stageFile(stage, f); err != nil {
			return err
		}
		list.WriteString(f.LocalPath)
		list.WriteByte('\n')
	}

	// zip appends to an existing archive
	if err := os.Remove(absDest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove previous archive: %w", err)
	}

	binary := w.ZipBinary
	if binary == "" {
		binary = "zip"
	}

	cmd := exec.CommandContext(ctx, binary, "-X", "-q", "-@", absDest)
	cmd.Dir = stage
	cmd.Stdin = strings.NewReader(list.String())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("native zip failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func stageFile(stage string, f selector.CandidateFile) error {
	target := filepath.Join(stage, filepath.FromSlash(f.LocalPath))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to stage %s: %w", f.LocalPath, err)
	}

	info, err := os.Stat(f.RootPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", f.RootPath, err)
	}

	if err := copyFile(f.RootPath, target, normalizeMode(info.Mode())); err != nil {
		return fmt.Errorf("failed to stage %s: %w", f.LocalPath, err)
	}
	return os.Chtimes(target, modTime, modTime)
}

// CopyFile copies src to dst, creating the parent directory
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return copyFile(src, dst, info.Mode().Perm())
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func dedupe(files []selector.CandidateFile) []selector.CandidateFile {
	seen := make(map[string]struct{}, len(files))
	out := make([]selector.CandidateFile, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f.LocalPath]; ok {
			continue
		}
		seen[f.LocalPath] = struct{}{}
		out = append(out, f)
	}
	return out
}
