package main

import (
	"os"

	"github.com/malbeclabs/chembl-sql/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
