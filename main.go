package main

import "github.com/CamFlow/callgraphs/cmd"

func main() {
	cmd.Execute()
}
