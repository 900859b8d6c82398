package main

import (
	"github.com/metal-toolbox/vbmc/cmd"
	"github.com/metal-toolbox/vbmc/internal/log"
)

func main() {
	log.InitLogger()
	cmd.Execute()
}
