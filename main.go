package main

import "github.com/Mateus-rgb/Lim-Code-sub001/cmd"

func main() {
	cmd.Execute()
}
