package main

import "github.com/toolink/callgate/cli"

func main() {
	cli.Execute()
}
