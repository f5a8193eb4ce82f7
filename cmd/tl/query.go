package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/storage/duckdb"
)

var queryReadonly bool

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a read-only SQL query",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		var result *duckdb.QueryResult
		if queryReadonly {
			result, err = repo.ExecuteQueryReadonly(args[0])
		} else {
			result, err = repo.ExecuteQuery(args[0])
		}
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(result)
		}
		printResult(result)
		return nil
	},
}

var sqlCmd = &cobra.Command{
	Use:   "sql <statement>",
	Short: "Run write-capable SQL (CHECKPOINT and VACUUM included)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		if err := repo.ExecuteSQL(args[0]); err != nil {
			return err
		}
		if !jsonOut {
			fmt.Println("OK")
		}
		return nil
	},
}

func printResult(result *duckdb.QueryResult) {
	if len(result.Columns) == 0 {
		return
	}
	fmt.Println(strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("(%d rows)\n", len(result.Rows))
}

func init() {
	queryCmd.Flags().BoolVar(&queryReadonly, "readonly", false, "attach the database read-only as defense in depth")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(sqlCmd)
}
