package mp4

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateAndRestoreBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orig.m4a")
	content := []byte("original bytes")
	os.WriteFile(path, content, 0644)

	backupPath, backup, err := createBackup(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original path still occupied after backup")
	}
	got, _ := os.ReadFile(backupPath)
	if !bytes.Equal(got, content) {
		t.Error("backup content differs")
	}

	if err := restoreBackup(path, backupPath, nil, backup); err != nil {
		t.Fatal(err)
	}
	got, _ = os.ReadFile(path)
	if !bytes.Equal(got, content) {
		t.Error("restored content differs")
	}
	if _, err := os.Stat(backupPath); !os.IsNotExist(err) {
		t.Error("backup file left behind")
	}
}

func TestBackupNameCollision(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orig.m4a")
	os.WriteFile(path, []byte("x"), 0644)
	os.WriteFile(path+".bak", []byte("occupied"), 0644)

	backupPath, backup, err := createBackup(path, "")
	if err != nil {
		t.Fatal(err)
	}
	defer backup.Close()
	if backupPath == path+".bak" {
		t.Error("collided with existing backup file")
	}
	if !strings.HasSuffix(backupPath, ".bak") {
		t.Errorf("unexpected backup name %q", backupPath)
	}
}

func TestBackupDirectoryOption(t *testing.T) {
	dir := t.TempDir()
	bdir := filepath.Join(dir, "backups")
	os.Mkdir(bdir, 0755)
	path := filepath.Join(dir, "orig.m4a")
	os.WriteFile(path, []byte("x"), 0644)

	backupPath, backup, err := createBackup(path, bdir)
	if err != nil {
		t.Fatal(err)
	}
	defer backup.Close()
	if filepath.Dir(backupPath) != bdir {
		t.Errorf("backup landed in %q", filepath.Dir(backupPath))
	}
}

func TestCreateBackupFailsCleanly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.m4a")
	if _, _, err := createBackup(path, ""); err == nil {
		t.Error("backup of missing file succeeded")
	}
}

// Simulates the planner failing mid-write: the original must come back
// byte-identical and the error must carry the context.
func TestHandleFailureAfterModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orig.m4a")
	content := []byte("precious media data")
	os.WriteFile(path, content, 0644)

	backupPath, backup, err := createBackup(path, "")
	if err != nil {
		t.Fatal(err)
	}
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	out.Write([]byte("partial garbage"))

	cause := os.ErrClosed
	err = handleFailureAfterModified("writing output file", path, backupPath, out, backup, cause)
	re, ok := err.(*RewriteError)
	if !ok {
		t.Fatalf("got %T", err)
	}
	if re.Context != "writing output file" || re.Unwrap() != cause {
		t.Errorf("error %v", re)
	}

	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, content) {
		t.Error("original not restored byte-identical")
	}
	if _, err := os.Stat(backupPath); !os.IsNotExist(err) {
		t.Error("backup left behind after restore")
	}
}

func TestProcessWideBackupDirectory(t *testing.T) {
	dir := t.TempDir()
	bdir := filepath.Join(dir, "global")
	os.Mkdir(bdir, 0755)
	SetBackupDirectory(bdir)
	defer SetBackupDirectory("")

	path := filepath.Join(dir, "orig.m4a")
	os.WriteFile(path, []byte("x"), 0644)
	backupPath, backup, err := createBackup(path, "")
	if err != nil {
		t.Fatal(err)
	}
	defer backup.Close()
	if filepath.Dir(backupPath) != bdir {
		t.Errorf("global backup directory ignored: %q", backupPath)
	}
}
