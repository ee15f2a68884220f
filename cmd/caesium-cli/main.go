// Command caesium-cli is the operator-facing client: an interactive
// query REPL, a load generator for exercising a running server, and a
// sketch-error oracle for checking the quantile sketch's accuracy
// bound against a reference implementation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "query":
		err = runQuery(os.Args[2:])
	case "insert":
		err = runInsert(os.Args[2:])
	case "sketch-error":
		err = runSketchError(os.Args[2:])
	case "analyze":
		err = runAnalyze(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "caesium-cli:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: caesium-cli <command> [flags]

commands:
  query         interactive query REPL against a running server
  insert        generate synthetic load against a server's insert socket
  sketch-error  compare the quantile sketch's observed error against a reference
  analyze       run ad hoc SQL against the server's exported Parquet files`)
}
