package main

import (
	"github.com/scrollDynasty/softforlogic-sub000/cmd/loadboard-cli/cmd"
)

func main() {
	cmd.Execute()
}
