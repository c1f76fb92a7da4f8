package main

import "github.com/NicolasKol/reforge/cmd"

func main() {
	cmd.Execute()
}
