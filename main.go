package main

import "github.com/thinkbox/cmlibrary/cmd"

func main() {
	cmd.Execute()
}
