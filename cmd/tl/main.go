// Command tl is the treeline CLI: a local-first personal-finance data
// engine over a single DuckDB file.
package main

import (
	"os"
)

func main() {
	os.Exit(Execute())
}
