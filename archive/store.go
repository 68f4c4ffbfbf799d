package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chatvault/config"
)

// ErrExists reports that another writer published the same path first. The
// losing writer's staged copy has already been discarded.
var ErrExists = errors.New("file already published")

// Store owns the on-disk attachment tree. Downloads land in a staging
// directory and are published with an atomic create-if-absent link, so two
// concurrent jobs for one identity leave exactly one file behind.
type Store struct {
	root    string
	staging string
}

// NewStore creates the archive root and staging area. Failure here is a
// configuration error and fatal for the component.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	staging := filepath.Join(abs, ".staging")
	for _, dir := range []string{abs, staging} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
		}
	}
	return &Store{root: abs, staging: staging}, nil
}

// Root returns the archive root directory.
func (s *Store) Root() string {
	return s.root
}

// Stage opens a scratch file for an in-flight download.
func (s *Store) Stage() (*os.File, error) {
	return os.CreateTemp(s.staging, "dl-*")
}

// Discard removes a staged file, ignoring already-gone files.
func (s *Store) Discard(stagedPath string) {
	_ = os.Remove(stagedPath)
}

// AbsPath resolves a relative entry path against the archive root.
func (s *Store) AbsPath(relPath string) string {
	return filepath.Join(s.root, relPath)
}

// EntryPath builds the relative archive path for an attachment:
// <channel>/<content subdir>/<name>_<ordinal><ext>.
func (s *Store) EntryPath(channelID, contentSubdir, filename string, ordinal int) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	name := fmt.Sprintf("%s_%d%s", config.SanitizeFragment(base), ordinal, ext)
	return filepath.Join(config.SanitizeFragment(channelID), contentSubdir, name)
}

// Publish moves a staged file to its final relative path. The hard link is
// a single atomic create-if-absent: when the destination already exists the
// staged copy is discarded and ErrExists returned. The absolute destination
// path is returned on success.
func (s *Store) Publish(stagedPath, relPath string) (string, error) {
	dst := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		s.Discard(stagedPath)
		return "", err
	}

	if err := os.Link(stagedPath, dst); err != nil {
		s.Discard(stagedPath)
		if errors.Is(err, os.ErrExist) {
			return "", ErrExists
		}
		return "", err
	}

	s.Discard(stagedPath)
	return dst, nil
}
