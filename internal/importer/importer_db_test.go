package importer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
)

func setupTest(t *testing.T) (*Service, uuid.UUID) {
	t.Helper()
	repo, err := duckdb.New(filepath.Join(t.TempDir(), "treeline.duckdb"), "")
	if err != nil {
		t.Fatal(err)
	}
	account := &types.Account{Name: "Checking", Currency: "USD"}
	if err := repo.CreateAccount(account); err != nil {
		t.Fatal(err)
	}
	return NewService(repo), account.ID
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var basicMappings = types.ColumnMappings{Date: "Date", Amount: "Amount", Description: "Description"}

const fiveRowCSV = `Date,Amount,Description
2024-01-15,100.00,Paycheck
2024-01-16,-25.50,Grocery Store
2024-01-17,-15.00,Coffee Shop
2024-01-18,50.00,Refund
2024-01-19,-200.00,Rent Payment
`

func TestImportFreshThenReimport(t *testing.T) {
	svc, accountID := setupTest(t)
	path := writeCSV(t, fiveRowCSV)

	first, err := svc.ImportFile(path, accountID, basicMappings, Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Discovered != 5 || first.Skipped != 0 || first.Imported != 5 {
		t.Errorf("first import = %+v, want 5/0/5", first)
	}

	second, err := svc.ImportFile(path, accountID, basicMappings, Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Discovered != 5 || second.Skipped != 5 || second.Imported != 0 {
		t.Errorf("re-import = %+v, want 5/5/0", second)
	}

	total, err := svc.Repo.CountTransactions(accountID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("total rows = %d, want 5", total)
	}
}

func TestImportPartialOverlap(t *testing.T) {
	svc, accountID := setupTest(t)
	csv1 := "Date,Amount,Description\n2024-01-01,1.00,A\n2024-01-02,2.00,B\n2024-01-03,3.00,C\n"
	csv2 := "Date,Amount,Description\n2024-01-02,2.00,B\n2024-01-03,3.00,C\n2024-01-04,4.00,D\n2024-01-05,5.00,E\n"

	if _, err := svc.ImportFile(writeCSV(t, csv1), accountID, basicMappings, Options{}, false); err != nil {
		t.Fatal(err)
	}
	second, err := svc.ImportFile(writeCSV(t, csv2), accountID, basicMappings, Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Imported != 2 || second.Skipped != 2 {
		t.Errorf("second import = imported %d skipped %d, want 2/2", second.Imported, second.Skipped)
	}
	total, _ := svc.Repo.CountTransactions(accountID)
	if total != 5 {
		t.Errorf("total = %d, want 5 unique rows", total)
	}
}

func TestImportIdenticalRowsAndReinstatement(t *testing.T) {
	svc, accountID := setupTest(t)
	csv := "Date,Amount,Description\n2024-01-15,-25.50,Coffee Shop\n2024-01-15,-25.50,Coffee Shop\n2024-01-15,-25.50,Coffee Shop\n"
	path := writeCSV(t, csv)

	first, err := svc.ImportFile(path, accountID, basicMappings, Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Imported != 3 {
		t.Fatalf("first import = %d, want 3", first.Imported)
	}

	second, err := svc.ImportFile(path, accountID, basicMappings, Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Imported != 0 {
		t.Fatalf("second import = %d, want 0", second.Imported)
	}

	// Delete two of the three and re-import: exactly two come back.
	list, err := svc.Repo.ListTransactions(accountID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("rows = %d", len(list))
	}
	if _, err := svc.Repo.DeleteTransactions([]uuid.UUID{list[0].ID, list[1].ID}); err != nil {
		t.Fatal(err)
	}

	third, err := svc.ImportFile(path, accountID, basicMappings, Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if third.Imported != 2 {
		t.Errorf("reinstating import = %d, want 2", third.Imported)
	}
	total, _ := svc.Repo.CountTransactions(accountID)
	if total != 3 {
		t.Errorf("final total = %d, want 3", total)
	}
}

func TestImportDerivesSnapshots(t *testing.T) {
	svc, accountID := setupTest(t)
	csv := "Date,Amount,Description,Balance\n" +
		"2024-01-15,100.00,Pay,1100.00\n" +
		"2024-01-15,-25.00,Store,1075.00\n" +
		"2024-01-16,-15.00,Coffee,1060.00\n"
	mappings := basicMappings
	mappings.Balance = "Balance"

	result, err := svc.ImportFile(writeCSV(t, csv), accountID, mappings, Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.BalanceSnapshotsCreated != 2 {
		t.Errorf("snapshots = %d, want one per day", result.BalanceSnapshotsCreated)
	}
	snaps, err := svc.Repo.ListBalanceSnapshots(accountID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("stored snapshots = %d", len(snaps))
	}
}

func TestImportDryRunPersistsNothing(t *testing.T) {
	svc, accountID := setupTest(t)
	result, err := svc.ImportFile(writeCSV(t, fiveRowCSV), accountID, basicMappings, Options{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !result.DryRun || result.Imported != 0 {
		t.Errorf("dry run = %+v", result)
	}
	if result.Discovered != 5 || len(result.Transactions) != 5 {
		t.Errorf("preview = discovered %d rows %d", result.Discovered, len(result.Transactions))
	}
	total, _ := svc.Repo.CountTransactions(accountID)
	if total != 0 {
		t.Errorf("dry run persisted %d rows", total)
	}
}

func TestImportMissingFileIsFatal(t *testing.T) {
	svc, accountID := setupTest(t)
	if _, err := svc.ImportFile(filepath.Join(t.TempDir(), "absent.csv"),
		accountID, basicMappings, Options{}, false); err == nil {
		t.Error("unreadable file must be fatal")
	}
}

func TestImportMalformedRowsCounted(t *testing.T) {
	svc, accountID := setupTest(t)
	csv := "Date,Amount,Description\n2024-01-15,10.00,OK\ngarbage-row,,\n2024-01-16,20.00,OK2\n"
	result, err := svc.ImportFile(writeCSV(t, csv), accountID, basicMappings, Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Discovered != 2 || result.Skipped != 1 || result.Imported != 2 {
		t.Errorf("result = %+v, want 2 discovered, 1 skipped, 2 imported", result)
	}
}
