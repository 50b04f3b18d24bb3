package main

import "github.com/iksnae/claude-relay/cmd"

func main() {
	cmd.Execute()
}
