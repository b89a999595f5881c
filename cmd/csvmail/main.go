/*
Package main provides the csvmail command.
*/
package main

import (
	"os"

	"github.com/JonMunkholm/csvmailer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
