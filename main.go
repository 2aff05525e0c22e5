package main

import "github.com/stleox/apmtrace/pkg/cmd"

func main() {
	cmd.Execute()
}
