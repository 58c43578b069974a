// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package wheel

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"unrepair/internal/xerrors"
)

// RegenerateRecord rewrites <dist-info>/RECORD to list every surviving
// file under root with its SHA256 digest and size, matching
// original_source's regenerate_record. The RECORD's own line carries no
// hash or size, per the wheel spec.
func RegenerateRecord(root, recordPath string) error {
	var lines []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if path == recordPath {
			lines = append(lines, rel+",,")
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(content)
		digest := base64.RawURLEncoding.EncodeToString(sum[:])
		lines = append(lines, fmt.Sprintf("%s,sha256=%s,%d", rel, digest, len(content)))
		return nil
	})
	if err != nil {
		return xerrors.NewWorkflowError("regenerate RECORD", err)
	}

	sort.Strings(lines)
	if err := os.WriteFile(recordPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return xerrors.NewWorkflowError("write RECORD", err)
	}
	return nil
}

// FindRecord locates the single "*.dist-info/RECORD" file under root.
func FindRecord(root string) (string, error) {
	var found string
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(filepath.Dir(path), ".dist-info") && filepath.Base(path) == "RECORD" {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", xerrors.NewWorkflowError("locate RECORD", err)
	}
	if found == "" {
		return "", xerrors.NewWorkflowError("locate RECORD", fmt.Errorf("no *.dist-info/RECORD found under %s", root))
	}
	return found, nil
}
