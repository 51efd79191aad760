package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/lukeb-aidev/cohesix-sub003/internal/console"
	"github.com/lukeb-aidev/cohesix-sub003/internal/hive"
	"github.com/lukeb-aidev/cohesix-sub003/internal/manifest"
	log "github.com/lukeb-aidev/cohesix-sub003/internal/minilog"
)

const banner = `cohesix: a minimal orchestration root task for edge/GPU fleets
exposing one namespace, Secure9P, over TCP and the serial console.`

var (
	f_manifest = flag.String("manifest", "", "path to a manifest YAML file (defaults built in if omitted)")
	f_9pport   = flag.Int("9p-port", 5640, "Secure9P/NineDoor TCP listen port")
	f_consport = flag.Int("console-port", console.DefaultTCPPort, "TCP console listen port")
	f_serial   = flag.String("serial", "", "path to a serial device/pty to run the console over (disabled if empty)")
	f_loglevel = flag.String("level", "info", "log level: debug, info, warn, error, fatal")
	f_maxconns = flag.Int("max-conns", 64, "maximum concurrent TCP console connections")
)

// shutdown mirrors the teacher daemon's signal channel: main blocks on it,
// and the first Ctrl-C/SIGTERM received starts the teardown at the bottom
// of main.
var (
	shutdown   = make(chan os.Signal, 1)
	shutdownMu sync.Mutex
)

func usage() {
	fmt.Println(banner)
	fmt.Println("usage: cohesix [option]...")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	level, err := log.ParseLevel(*f_loglevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.AddLogger("stderr", os.Stderr, level, true)

	m := manifest.Default()
	if *f_manifest != "" {
		m, err = manifest.Load(*f_manifest)
		if err != nil {
			log.Fatal("loading manifest: %v", err)
		}
	}

	h := hive.Build(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)

	// NineDoor's first version reply is what spec §4.7 ties the
	// BOOTING -> ONLINE transition to; this daemon has no real
	// transport-level hook for "first Tversion answered" so it treats
	// a clean boot as equivalent and flips the lifecycle controller
	// the moment the listeners are up.
	if err := h.Orchestrator.VersionAnswered(); err != nil {
		log.Warn("lifecycle boot-complete: %v", err)
	}

	ln9p, err := net.Listen("tcp", fmt.Sprintf(":%d", *f_9pport))
	if err != nil {
		log.Fatal("listening for Secure9P on port %d: %v", *f_9pport, err)
	}
	go func() {
		for {
			conn, err := ln9p.Accept()
			if err != nil {
				return
			}
			go h.NineDoor.Serve(conn)
		}
	}()
	log.Info("NineDoor listening on :%d", *f_9pport)

	if m.Features.NetConsole {
		lnConsole, err := net.Listen("tcp", fmt.Sprintf(":%d", *f_consport))
		if err != nil {
			log.Fatal("listening for console on port %d: %v", *f_consport, err)
		}
		h.TCP = console.NewTCPConsole(h.Console, lnConsole, *f_maxconns)
		go func() {
			if err := h.TCP.Serve(); err != nil {
				log.Warn("console listener closed: %v", err)
			}
		}()
		log.Info("console listening on :%d", *f_consport)
	}

	if m.Features.SerialConsole && *f_serial != "" {
		f, err := os.OpenFile(*f_serial, os.O_RDWR, 0)
		if err != nil {
			log.Fatal("opening serial device %s: %v", *f_serial, err)
		}
		defer f.Close()
		h.Serial = console.NewSerial(h.Console, f)
		go h.Serial.Run()
		log.Info("serial console attached to %s", *f_serial)
	}

	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	if sig != nil {
		log.Warn("caught %v, shutting down", sig)
	}

	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	cancel()
	ln9p.Close()

	runtime.Gosched()
}
