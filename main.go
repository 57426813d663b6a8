package main

import "github.com/zapfunnel/zapfunnel/cmd"

func main() {
	cmd.Execute()
}
