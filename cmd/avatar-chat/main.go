package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/DaDanny/rpm-avatar/internal/dotenv"
	avatar "github.com/DaDanny/rpm-avatar/sdk"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(errOut, "avatar-chat: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("avatar-chat", flag.ContinueOnError)
	fs.SetOutput(errOut)
	defaultURL := os.Getenv("AVATAR_GATEWAY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:3001"
	}
	gatewayURL := fs.String("url", defaultURL, "avatar gateway base URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))

	session, err := avatar.Connect(ctx, *gatewayURL, avatar.ConnectOptions{})
	if err != nil {
		fmt.Fprintf(errOut, "avatar-chat: connect: %v\n", err)
		return 1
	}
	defer session.Close()

	view := avatar.NewView()
	view.Connected()

	var capture *avatar.CaptureManager
	recorder, recErr := newFFmpegRecorder()
	if recErr != nil {
		fmt.Fprintf(errOut, "warning: microphone unavailable (%v); text input only\n", recErr)
		capture = avatar.NewCaptureManager(nil, logger)
	} else {
		capture = avatar.NewCaptureManager(recorder, logger)
	}

	var playback *avatar.PlaybackManager
	if player, playErr := newFFplayPlayer(); playErr != nil {
		fmt.Fprintf(errOut, "warning: %v; replies will be text only\n", playErr)
	} else {
		playback = avatar.NewPlaybackManager(player, logger, view.PlaybackStarted, view.PlaybackEnded)
	}

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range session.Events() {
			view.Apply(ev)
			switch e := ev.(type) {
			case avatar.UserMessageEvent:
				fmt.Fprintf(out, "\n[you] %s\n", e.Text)
			case avatar.ProcessingStatusEvent:
				fmt.Fprintf(out, "  … %s\n", e.Status)
			case avatar.AIResponseEvent:
				fmt.Fprintf(out, "[avatar] %s\n", e.Text)
			case avatar.AudioResponseEvent:
				if playback == nil {
					continue
				}
				if err := playback.Play(e.Audio, e.Format); err != nil {
					fmt.Fprintf(errOut, "playback error: %v\n", err)
				}
			case avatar.ErrorEvent:
				fmt.Fprintf(out, "[system] %s\n", e.Message)
			case avatar.ContextClearedEvent:
				fmt.Fprintln(out, "[system] conversation context cleared")
			}
		}
	}()

	fmt.Fprintln(out, "Connected. Type a message, or use /rec, /send, /clear, /exit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			if playback != nil {
				playback.Stop()
			}
			_ = session.Close()
			<-eventsDone
			if err := session.Err(); err != nil {
				fmt.Fprintf(errOut, "session error: %v\n", err)
				return 1
			}
			return 0
		case "/rec":
			if err := view.StartRecording(); err != nil {
				fmt.Fprintf(errOut, "cannot record: %v\n", err)
				continue
			}
			if err := capture.Start(); err != nil {
				view.CancelRecording()
				fmt.Fprintf(errOut, "microphone error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "recording… /send to submit")
		case "/send":
			clip, err := capture.Stop()
			if err != nil {
				view.CancelRecording()
				fmt.Fprintf(errOut, "recording error: %v\n", err)
				continue
			}
			if clip == nil {
				fmt.Fprintln(out, "nothing recorded")
				view.CancelRecording()
				continue
			}
			if err := view.TurnSubmitted(); err != nil {
				fmt.Fprintf(errOut, "cannot send: %v\n", err)
				continue
			}
			if err := session.SendAudio(clip.Audio, clip.Format); err != nil {
				fmt.Fprintf(errOut, "send error: %v\n", err)
			}
		case "/clear":
			if err := session.ClearContext(); err != nil {
				fmt.Fprintf(errOut, "clear error: %v\n", err)
			}
		default:
			if err := view.TurnSubmitted(); err != nil {
				fmt.Fprintf(errOut, "cannot send: %v\n", err)
				continue
			}
			if err := session.SendText(line); err != nil {
				fmt.Fprintf(errOut, "send error: %v\n", err)
			}
		}
	}

	_ = session.Close()
	<-eventsDone
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(errOut, "read input: %v\n", err)
		return 1
	}
	return 0
}
