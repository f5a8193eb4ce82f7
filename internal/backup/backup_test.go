package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
)

func setupBackupTest(t *testing.T) (*Service, *duckdb.Repo) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "treeline.duckdb")
	repo, err := duckdb.New(dbPath, "")
	if err != nil {
		t.Fatal(err)
	}
	return NewService(dbPath, filepath.Join(dir, "backups"), ""), repo
}

func seedAccount(t *testing.T, repo *duckdb.Repo) uuid.UUID {
	t.Helper()
	account := &types.Account{Name: "Checking", Currency: "USD"}
	if err := repo.CreateAccount(account); err != nil {
		t.Fatal(err)
	}
	return account.ID
}

func TestCreateAndList(t *testing.T) {
	svc, repo := setupBackupTest(t)
	seedAccount(t, repo)

	path, err := svc.Create()
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("backup is empty")
	}

	backups, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 {
		t.Fatalf("backups = %d", len(backups))
	}
	if filepath.Ext(backups[0].Name) != ".duckdb" {
		t.Errorf("backup name = %q", backups[0].Name)
	}
}

func TestRestoreBringsDataBack(t *testing.T) {
	svc, repo := setupBackupTest(t)
	id := seedAccount(t, repo)

	path, err := svc.Create()
	if err != nil {
		t.Fatal(err)
	}

	// Mutate after the backup, then restore.
	if err := repo.DeleteAccount(id); err != nil {
		t.Fatal(err)
	}
	if accounts, _ := repo.ListAccounts(); len(accounts) != 0 {
		t.Fatal("delete did not take")
	}

	shared := duckdb.NewShared()
	if err := svc.Restore(filepath.Base(path), shared); err != nil {
		t.Fatal(err)
	}
	restored, err := duckdb.New(svc.DBPath, "")
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := restored.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0].Name != "Checking" {
		t.Errorf("restored accounts = %+v", accounts)
	}
}

func TestRestoreMissingBackup(t *testing.T) {
	svc, _ := setupBackupTest(t)
	if err := svc.Restore("absent.duckdb", nil); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestRotateKeepsNewest(t *testing.T) {
	svc, repo := setupBackupTest(t)
	id := seedAccount(t, repo)
	_ = id

	// Create several backups, nudging the balance so the files differ.
	// Names carry a second-resolution timestamp, so backups made within
	// the same second share a name and the later copy replaces the earlier.
	for i := 0; i < 3; i++ {
		if err := repo.UpdateAccountBalance(id, decimal.NewFromInt(int64(i))); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Create(); err != nil {
			t.Fatal(err)
		}
	}
	backups, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) < 1 {
		t.Fatal("no backups created")
	}
	newest := backups[len(backups)-1].Name

	if err := svc.Rotate(1); err != nil {
		t.Fatal(err)
	}
	backups, err = svc.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 {
		t.Errorf("after rotate: %d backups, want 1", len(backups))
	}
	if len(backups) == 1 && backups[0].Name != newest {
		t.Errorf("after rotate kept %s, want the newest %s", backups[0].Name, newest)
	}
}

func TestDeleteAndClear(t *testing.T) {
	svc, repo := setupBackupTest(t)
	seedAccount(t, repo)
	path, err := svc.Create()
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(filepath.Base(path)); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(filepath.Base(path)); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("double delete = %v, want NotFound", err)
	}
	if err := svc.Clear(); err != nil {
		t.Fatal(err)
	}
}
