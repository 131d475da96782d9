package main

import "github.com/mykhaliev/agent-oracle/cli"

func main() {
	cli.Main()
}
