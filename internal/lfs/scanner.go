// Package lfs enumerates git-lfs objects of a cloned repository by
// scanning its working tree for pointer files.
package lfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"repoport/internal/representation"
)

// Pointer files are tiny; anything bigger is real content.
const maxPointerSize = 1024

const pointerVersionPrefix = "version https://git-lfs.github.com/spec/"

type Scanner struct {
	dir string
	log logrus.FieldLogger
}

func NewScanner(dir string, log logrus.FieldLogger) (*Scanner, error) {
	if dir == "" {
		return nil, fmt.Errorf("lfs: repository dir is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("lfs: repository dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("lfs: %s is not a directory", dir)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scanner{dir: dir, log: log}, nil
}

// LfsObjects walks the working tree and parses every pointer file found.
// Duplicate oids collapse to one object; the same blob checked in twice is
// still stored once.
func (s *Scanner) LfsObjects(ctx context.Context) ([]representation.LfsObject, error) {
	seen := make(map[string]struct{})
	var objects []representation.LfsObject

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxPointerSize {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		obj, ok := parsePointer(raw)
		if !ok {
			return nil
		}
		if _, dup := seen[obj.OID]; dup {
			return nil
		}
		seen[obj.OID] = struct{}{}
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lfs: scan %s: %w", s.dir, err)
	}

	s.log.WithFields(logrus.Fields{
		"dir":     s.dir,
		"objects": len(objects),
	}).Debug("scanned working tree for lfs pointers")
	return objects, nil
}

// parsePointer decodes a git-lfs pointer file: a version line followed by
// "oid sha256:<hex>" and "size <bytes>" lines.
func parsePointer(raw []byte) (representation.LfsObject, bool) {
	text := string(raw)
	if !strings.HasPrefix(text, pointerVersionPrefix) {
		return representation.LfsObject{}, false
	}

	var obj representation.LfsObject
	for _, line := range strings.Split(text, "\n") {
		key, value, found := strings.Cut(strings.TrimRight(line, "\r"), " ")
		if !found {
			continue
		}
		switch key {
		case "oid":
			obj.OID = strings.TrimPrefix(value, "sha256:")
		case "size":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return representation.LfsObject{}, false
			}
			obj.Size = size
		}
	}
	if obj.OID == "" || obj.Size <= 0 {
		return representation.LfsObject{}, false
	}
	return obj, true
}
