package main

import "github.com/historify-project/historify/internal/cli"

func main() {
	cli.Execute()
}
