package main

import "rest2mcp/cmd"

func main() {
	cmd.Execute()
}
