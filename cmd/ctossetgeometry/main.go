package main

import (
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/sbelectronics/ctosdisk"
)

type rootParameters struct {
	ImageFilepath   string `short:"i" long:"image-filepath" description:"File-path of CTOS disk image" required:"true"`
	Cylinders       uint16 `short:"c" long:"cylinders" description:"Cylinders per disk" required:"true"`
	Heads           uint16 `short:"k" long:"heads" description:"Tracks per cylinder" required:"true"`
	SectorsPerTrack uint16 `short:"t" long:"sectors-per-track" description:"Sectors per track" required:"true"`
	BytesPerSector  uint16 `short:"b" long:"bytes-per-sector" description:"Bytes per sector" required:"true"`
}

var rootArguments = new(rootParameters)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	image, err := os.ReadFile(rootArguments.ImageFilepath)
	log.PanicIf(err)

	vol, err := ctos.Open(image, ctos.NewStderrDiagnostics())
	log.PanicIf(err)

	err = vol.SetGeometry(rootArguments.Cylinders, rootArguments.Heads, rootArguments.SectorsPerTrack, rootArguments.BytesPerSector)
	log.PanicIf(err)

	err = os.WriteFile(rootArguments.ImageFilepath, vol.Bytes(), 0644)
	log.PanicIf(err)
}
