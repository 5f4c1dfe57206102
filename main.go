package main

import "github.com/threadsage/server/cmd"

func main() {
	cmd.Execute()
}
