package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], newApp()))
}

func run(args []string, app *app) int {
	root := newRootCommand(app)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(app.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
