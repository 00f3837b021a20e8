package main

import "github.com/y-oga-819/go-agda-connection/internal/cli"

func main() {
	cli.Execute()
}
