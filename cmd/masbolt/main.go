package main

import "github.com/masbolt/masbolt/internal/cli"

func main() {
	cli.Execute()
}
