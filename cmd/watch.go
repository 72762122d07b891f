package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"castd/config"
	"castd/internal/client"
	"castd/internal/handshake"
	"castd/internal/protocol"
	"castd/util"
)

// pingEvery keeps the viewer under the server's idle timeout.
const pingEvery = 20 * time.Second

// creatureUnknown marks a full creature description in 0x6A.
const creatureUnknown = 0x61

// watch attaches to a cast and prints what the caster's client shows
// until the cast ends or ctx is cancelled.
func watch(ctx context.Context, cfg *config.Config, out io.Writer, logger *util.Logger) error {
	key, err := handshake.LoadRSAKey(cfg.RSAKeyPath)
	if err != nil {
		return fmt.Errorf("rsa key %s: %w", cfg.RSAKeyPath, err)
	}

	cl, err := client.Dial(ctx, cfg.CastAddr)
	if err != nil {
		return err
	}
	defer cl.Close()

	stop := context.AfterFunc(ctx, func() { cl.Close() })
	defer stop()

	if err := cl.Login(key.Public(), cfg.Watch, cfg.WatchPassword); err != nil {
		return err
	}
	logger.Verbose("watching %s via %s", cfg.Watch, cfg.CastAddr)

	for {
		msg, err := cl.ReadPacket(pingEvery)
		if util.IsTimeout(err) {
			if err := cl.Ping(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil || util.IsHarmless(err) {
				return nil
			}
			return err
		}
		line, done := describe(msg)
		if line != "" {
			fmt.Fprintln(out, line)
		}
		if done {
			return nil
		}
	}
}

// describe renders one server frame for the terminal.  done is true
// for the disconnect frame.
func describe(msg *protocol.Message) (line string, done bool) {
	if msg.Len() == 0 {
		return "", false
	}
	switch op := msg.ReadU8(); op {
	case protocol.OpDisconnect:
		return "disconnected: " + msg.ReadString(), true
	case protocol.OpSelfAppear:
		return fmt.Sprintf("watching creature %#x", msg.ReadU32()), false
	case protocol.OpAddTileThing:
		pos := msg.ReadPosition()
		msg.ReadU8()
		if msg.ReadU16() != creatureUnknown {
			return "", false
		}
		msg.ReadU32()
		msg.ReadU32()
		return fmt.Sprintf("%s at %s", msg.ReadString(), formatPos(pos)), false
	case protocol.OpCreatureMove:
		from := msg.ReadPosition()
		msg.ReadU8()
		to := msg.ReadPosition()
		return fmt.Sprintf("move %s -> %s", formatPos(from), formatPos(to)), false
	case protocol.OpCreatureSay:
		msg.ReadU32()
		author := msg.ReadString()
		msg.ReadU16()
		where := "say"
		if msg.ReadU8() == protocol.TalkChannelY {
			where = fmt.Sprintf("channel %d", msg.ReadU16())
		} else {
			msg.ReadPosition()
		}
		return fmt.Sprintf("[%s] %s: %s", where, author, msg.ReadString()), false
	case protocol.OpOpenChannel:
		id := msg.ReadU16()
		return fmt.Sprintf("channel %d %q", id, msg.ReadString()), false
	case protocol.OpTextMessage:
		msg.ReadU8()
		return msg.ReadString(), false
	default:
		return "", false
	}
}

func formatPos(p protocol.Position) string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}
