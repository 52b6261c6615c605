package mp4

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrBackupIO = errors.New("mp4: backup file operation failed")

var (
	backupDirMu sync.Mutex
	backupDir   string
)

// SetBackupDirectory configures the process-wide directory rewrite backups
// are created in. The default, the empty string, places the backup next to
// the original file.
func SetBackupDirectory(dir string) {
	backupDirMu.Lock()
	backupDir = dir
	backupDirMu.Unlock()
}

func BackupDirectory() string {
	backupDirMu.Lock()
	defer backupDirMu.Unlock()
	return backupDir
}

// backupPathFor picks a non-clashing sibling path for the backup of
// originalPath, honoring the configured backup directory.
func backupPathFor(originalPath, dir string) string {
	base := filepath.Base(originalPath)
	if dir == "" {
		dir = filepath.Dir(originalPath)
	}
	p := filepath.Join(dir, base+".bak")
	if _, err := os.Lstat(p); err != nil {
		return p
	}
	return filepath.Join(dir, base+"."+uuid.NewString()+".bak")
}

// createBackup moves the original aside and reopens it read-only, leaving
// the original path free for a fresh output file. dir overrides the
// process-wide backup directory when non-empty.
func createBackup(originalPath, dir string) (backupPath string, backup *os.File, err error) {
	if dir == "" {
		dir = BackupDirectory()
	}
	backupPath = backupPathFor(originalPath, dir)
	if err = os.Rename(originalPath, backupPath); err != nil {
		return "", nil, errors.Wrapf(ErrBackupIO, "rename to %s: %v", backupPath, err)
	}
	backup, err = os.Open(backupPath)
	if err != nil {
		// try to undo the rename so the original path stays valid
		os.Rename(backupPath, originalPath)
		return "", nil, errors.Wrapf(ErrBackupIO, "reopen backup: %v", err)
	}
	return backupPath, backup, nil
}

// restoreBackup closes the given streams and moves the backup over the
// original path.
func restoreBackup(originalPath, backupPath string, output, backup *os.File) error {
	if output != nil {
		output.Close()
	}
	if backup != nil {
		backup.Close()
	}
	if err := os.Rename(backupPath, originalPath); err != nil {
		return errors.Wrapf(ErrBackupIO, "restore %s: %v", originalPath, err)
	}
	return nil
}

// RewriteError reports a write failure that occurred after the original
// file had already been modified. By the time the caller sees it the
// backup has been restored, so the persisted state is the pre-edit file.
type RewriteError struct {
	Context string
	Err     error
}

func (e *RewriteError) Error() string {
	return "mp4: rewrite failed while " + e.Context + ": " + e.Err.Error()
}

func (e *RewriteError) Unwrap() error { return e.Err }

// handleFailureAfterModified is the planner's catch-all once original
// bytes have been disturbed: restore the backup, then surface a
// RewriteError so the caller knows the pre-edit state is what remains.
func handleFailureAfterModified(context string, originalPath, backupPath string, output, backup *os.File, cause error) error {
	if restoreErr := restoreBackup(originalPath, backupPath, output, backup); restoreErr != nil {
		return &RewriteError{
			Context: context + " (backup restore also failed: " + restoreErr.Error() + ")",
			Err:     cause,
		}
	}
	return &RewriteError{Context: context, Err: cause}
}
