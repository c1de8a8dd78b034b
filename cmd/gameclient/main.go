// Package main starts the game session client and handles termination.
//
// The process joins one session, mirrors its event stream into the log, and
// leaves cleanly on SIGINT/SIGTERM. Session state remains owned by the game
// backend; this side only keeps a synchronized local view.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/bykotofff/dnd-game-sub001/internal/cmd/client"
)

func main() {
	cfg, err := clientcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[GAMECLIENT] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := clientcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run: %v", err)
	}
}
