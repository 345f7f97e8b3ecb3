// Package main implements the nsfplay demo executable: it opens an NSF
// file, drives playback at the header's advisory frame rate, and routes
// APU writes to a reference square-wave audio sink.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nsfplay/internal/audiosink"
	"nsfplay/internal/cpucore"
	"nsfplay/internal/fake6502"
	"nsfplay/internal/nsf"
)

const defaultSampleRate = 44100

func main() {
	var (
		romFile = flag.String("nsf", "", "Path to NSF file to play")
		song    = flag.Int("song", -1, "Zero-based song index to play (default: header's starting song)")
		help    = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *romFile == "" {
		log.Fatal("nsf file required: pass -nsf path/to/song.nsf")
	}

	hdr, err := nsf.ReadHeader(*romFile)
	if err != nil {
		log.Fatalf("failed to read header: %v", err)
	}
	fmt.Printf("nsfplay: %q by %q (%s)\n", hdr.Name, hdr.Artist, hdr.Copyright)
	fmt.Printf("nsfplay: %d song(s), starting song %d\n", hdr.TotalSongs, hdr.StartingSong)

	songIndex := int(hdr.StartingSong) - 1
	if *song >= 0 {
		songIndex = *song
	}

	sink, err := audiosink.New(defaultSampleRate, nil)
	if err != nil {
		log.Fatalf("failed to start audio sink: %v", err)
	}
	defer sink.Close()

	inst, err := nsf.Open(*romFile, func(bus cpucore.Bus) cpucore.Core { return fake6502.New(bus) }, nil)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *romFile, err)
	}
	defer inst.Close()

	if err := inst.PlaybackInit(songIndex, sink.Write); err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	frameInterval := time.Duration(hdr.PlaySpeedNTSC) * time.Microsecond
	if frameInterval <= 0 {
		frameInterval = time.Second / 60
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	fmt.Println("nsfplay: playing. Press Ctrl+C to stop.")
	for {
		select {
		case <-sigCh:
			fmt.Println("nsfplay: stopping")
			return
		case <-ticker.C:
			if err := inst.PlaybackFrame(); err != nil {
				log.Fatalf("playback frame failed: %v", err)
			}
		}
	}
}

func printUsage() {
	fmt.Println("nsfplay - NSF music file player")
	fmt.Println()
	fmt.Println("Usage: nsfplay -nsf <file.nsf> [-song N]")
	flag.PrintDefaults()
}
