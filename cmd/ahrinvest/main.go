package main

import "ahr999-autoinvest/internal/cli"

func main() {
	cli.Execute()
}
