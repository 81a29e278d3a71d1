package main

import "github.com/Zhima-Mochi/stockledger/internal/cli"

func main() {
	cli.Execute()
}
