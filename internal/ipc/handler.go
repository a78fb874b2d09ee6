package ipc

import (
	"time"

	"github.com/rs/zerolog"
)

// pollingCommands are sent every second or so by clients; they log at trace.
var pollingCommands = map[CommandType]bool{
	CmdStatus:      true,
	CmdGetQueue:    true,
	CmdVideoUpdate: true,
	CmdVideoState:  true,
}

// logExchange logs one request and its response.
func logExchange(logger zerolog.Logger, req *Request, resp *Response, duration time.Duration) {
	var ev *zerolog.Event
	switch {
	case !resp.Success:
		ev = logger.Info().Str("error", resp.Error)
	case pollingCommands[req.Cmd]:
		ev = logger.Trace()
	default:
		ev = logger.Debug()
	}
	ev.Str("cmd", string(req.Cmd)).
		Str("token", truncateToken(req.Token)).
		Bool("success", resp.Success).
		Dur("duration", duration).
		Msg("ipc request")
}

func truncateToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
