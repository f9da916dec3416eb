package main

import (
	"tsdb-reconcile/cmd"
)

func main() {
	cmd.Execute()
}
