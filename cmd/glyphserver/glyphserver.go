package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/glyphs/server"
)

func main() {
	parser := argparse.NewParser("glyphserver", "Template-matching glyph recognizer")
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload the demo page instead of embedding it into the binary", Default: false})
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "glyphs.json"})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen address", Default: ":8080"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	s, err := server.NewServer(*configFilePath, *hotReloadWWW)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	s.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := s.ListenHTTP(*port); err != nil {
		fmt.Printf("%v\n", err)
	}
}
