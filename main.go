package main

import (
	"github.com/mcbrumagin/soundclone-sub000/cmd"
)

func main() {
	cmd.Execute()
}
