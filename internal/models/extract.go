package models

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractArchive streams archivePath (.tar.bz2 or .tar.gz, detected by
// extension) into destDir, emitting one Progress event per regular file.
// If the archive cannot be opened or its extension is not supported, destDir
// is left untouched; any later failure (a bad gzip header included) removes
// everything inside destDir, files that were there before the call included,
// and keeps destDir itself, per spec.md §4.2's "failure ⇒ delete partial
// output" rule.
//
// New relative to the teacher, which ships pre-built single-file models and
// never extracts an archive.
func extractArchive(archivePath, destDir string, progressCh chan<- Progress, engine Engine) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("models: open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(archivePath, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			cleanupPartialExtract(destDir)
			return fmt.Errorf("models: gzip header: %w", err)
		}
		defer gz.Close()
		r = gz
	default:
		return fmt.Errorf("models: unsupported archive format: %s", archivePath)
	}

	if err := extractTar(r, destDir, progressCh, engine); err != nil {
		cleanupPartialExtract(destDir)
		return err
	}
	return nil
}

func extractTar(r io.Reader, destDir string, progressCh chan<- Progress, engine Engine) error {
	tr := tar.NewReader(r)
	var n int

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("models: tar read: %w", err)
		}

		// The upstream archives wrap their files in one top-level directory;
		// flatten it so the manifest's required-prefix files land directly
		// in destDir.
		name := filepath.Base(hdr.Name)
		if name == "." || name == "" {
			continue
		}
		target := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("models: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeExtractedFile(target, tr, hdr.Size); err != nil {
				return err
			}
			n++
			if progressCh != nil {
				progressCh <- Progress{Engine: engine, Phase: "extracting", Bytes: int64(n), Total: -1}
			}
		default:
			// symlinks and other special entries are not expected in model
			// archives; skip rather than fail the whole extraction.
		}
	}
	return nil
}

func writeExtractedFile(target string, r io.Reader, size int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("models: mkdir %s: %w", filepath.Dir(target), err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("models: create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.CopyN(out, r, size); err != nil && err != io.EOF {
		return fmt.Errorf("models: write %s: %w", target, err)
	}
	return nil
}

// cleanupPartialExtract best-effort removes directory contents after a
// failed extraction, leaving destDir itself in place for the next attempt.
func cleanupPartialExtract(destDir string) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.RemoveAll(filepath.Join(destDir, e.Name()))
	}
}
