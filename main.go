package main

import "tvremote/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
