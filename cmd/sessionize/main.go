// Package main implements the sessionize binary.
package main

import "github.com/arkilian/sessionize/internal/cli"

func main() {
	cli.Execute()
}
