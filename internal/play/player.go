package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// preferred audio players, in order
var players = []string{"vlc", "mpv", "ffplay", "aplay"}

type Player struct {
	lookPath func(file string) (string, error)
	run      func(cmd *exec.Cmd) error
}

func New() *Player {
	return &Player{
		lookPath: exec.LookPath,
		run:      func(cmd *exec.Cmd) error { return cmd.Run() },
	}
}

// Play blocks until the first available player finishes audioFile.
func (p *Player) Play(ctx context.Context, audioFile string) error {
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd, err := command(ctx, player, audioFile)
	if err != nil {
		return err
	}

	slog.Info("Playing recording", "file", audioFile, "player", player)
	if err := p.run(cmd); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	slog.Debug("Playback completed", "file", audioFile)
	return nil
}

func command(ctx context.Context, player, audioFile string) (*exec.Cmd, error) {
	switch player {
	case "vlc":
		return exec.CommandContext(ctx, "vlc", "--play-and-exit", audioFile), nil
	case "mpv":
		return exec.CommandContext(ctx, "mpv", "--no-video", "--", audioFile), nil
	case "ffplay":
		return exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", audioFile), nil
	case "aplay":
		if ext := strings.ToLower(filepath.Ext(audioFile)); ext != ".wav" {
			return nil, fmt.Errorf("aplay requires WAV format, got %s", ext)
		}
		return exec.CommandContext(ctx, "aplay", "--", audioFile), nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
