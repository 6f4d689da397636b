package main

import "github.com/javanhut/muninn/cli"

func main() {
	cli.Execute()
}
