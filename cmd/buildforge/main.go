package main

import "github.com/airlift/buildforge/internal/cmd"

func main() {
	cmd.Execute()
}
