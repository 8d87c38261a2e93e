package main

import (
	"github.com/abe-nagisa/arcparse/cmd"
)

func main() {
	cmd.Execute()
}
