package main

import "github.com/bidflow/mailtrack/internal/cli"

func main() {
	cli.Execute()
}
