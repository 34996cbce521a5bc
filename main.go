package main

import "semgroup/cmd"

func main() {
	cmd.Execute()
}
