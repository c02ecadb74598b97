package main

import "github.com/JonMunkholm/bridgette/cmd/bridgette/cli"

func main() {
	cli.InitAndExecute()
}
