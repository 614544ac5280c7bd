package main

import "github.com/nextlevelbuilder/askgate/cmd"

func main() {
	cmd.Execute()
}
