// Package main is entrypoint for the application
package main

import (
	"mediabot/cmd"
)

func main() {
	cmd.Main()
}
