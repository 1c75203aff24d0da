package main

import "github.com/felixgeelhaar/aarii/cmd/aarii/cli"

func main() {
	cli.Execute()
}
