package main

import "github.com/martinemde/harness/cmd"

func main() {
	cmd.Execute()
}
