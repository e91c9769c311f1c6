package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/cmd/glimpse/cmd"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
