package main

import "github.com/MYNTIST-IAM/IAM/internal/cli"

func main() {
	cli.Execute()
}
