package main

import (
	"fmt"

	"github.com/trezcool/goose"

	appfs "github.com/trezcool/darasa/fs"
)

// mockable
var (
	gooseUpFunc      = goose.Up
	gooseUpByOneFunc = goose.UpByOne
	gooseDownFunc    = goose.Down
	gooseRedoFunc    = goose.Redo
)

func (cli *commandLine) migrate(command string) error {
	switch command {
	case "up":
		return gooseUpFunc(cli.db, appfs.FS, "migrations")
	case "up-by-one":
		return gooseUpByOneFunc(cli.db, appfs.FS, "migrations")
	case "down":
		return gooseDownFunc(cli.db, appfs.FS, "migrations")
	case "redo":
		return gooseRedoFunc(cli.db, appfs.FS, "migrations")
	}
	return fmt.Errorf("%q: no such command", command)
}
