// capclient: reference trainee client.
// Joins a room on the tool server and answers screenshot and step
// commands from an image file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-tradeschool/internal/config"
	"github.com/teslashibe/go-tradeschool/internal/httpc"
	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/capclient"
)

var (
	serverURL   = flag.String("server", config.Getenv("TRADESCHOOL_URL", "http://localhost:8080"), "Tool server base URL")
	roomName    = flag.String("room", "", "Room to join (the agent call id)")
	identity    = flag.String("identity", "", "Participant identity (the agent user id)")
	framePath   = flag.String("frame", "", "Image file answered for every screenshot request")
	maxAge      = flag.Duration("max-age", 0, "Reject frame files older than this (0 disables)")
	overChannel = flag.Bool("data-channel", false, "Send results over the room connection instead of HTTP")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := config.Getenv("LOG_LEVEL", "info")
	if *debug {
		level = "debug"
	}
	log.Init(level)
	logger := log.Component("main")

	if *roomName == "" || *identity == "" || *framePath == "" {
		fmt.Fprintln(os.Stderr, "usage: capclient -room <room> -identity <identity> -frame <image>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	steps := capclient.NewStepTracker()
	steps.OnChange(func(step int) {
		logger.Info("step complete", "step", step, "completed", steps.Completed())
	})

	client, err := capclient.New(capclient.Config{
		ServerURL:          *serverURL,
		Room:               *roomName,
		Identity:           *identity,
		Frames:             &capclient.FileFrame{Path: *framePath, MaxAge: *maxAge},
		Steps:              steps,
		ResultsOverChannel: *overChannel,
		HTTPClient:         httpc.NewClient(15 * time.Second),
	})
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("connection lost", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}
