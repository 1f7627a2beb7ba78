package main

import "github.com/mkumbo/billing-gateway/cmd"

func main() {
	cmd.Execute()
}
