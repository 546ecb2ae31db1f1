// Package main is the entry point for the coachsync CLI.
package main

import "github.com/coachsync/coachsync/internal/cli"

func main() {
	cli.Execute()
}
