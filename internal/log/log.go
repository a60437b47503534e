// Package log provides logging utilities.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"

	"github.com/ghettovoice/siptx/sip"
)

// NewHandler wraps h with the module formatters: errors are expanded,
// network endpoints and SIP messages are rendered as compact groups.
var NewHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(a net.Addr) slog.Value {
		if a == nil {
			return slog.StringValue("<nil>")
		}
		return slog.StringValue(a.Network() + "://" + a.String())
	}),
	slogformatter.FormatByType(func(c net.PacketConn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.String("ptr", fmt.Sprintf("%p", c)),
			slog.Any("local_addr", c.LocalAddr()),
		)
	}),
	slogformatter.FormatByType(func(req *sip.Request) slog.Value {
		if req == nil {
			return slog.StringValue("<nil>")
		}
		return slog.GroupValue(
			slog.String("method", string(req.Method)),
			slog.String("uri", req.URI),
			slog.String("call_id", req.CallID),
			slog.Any("cseq", req.CSeq),
			slog.String("branch", req.Branch()),
		)
	}),
	slogformatter.FormatByType(func(res *sip.Response) slog.Value {
		if res == nil {
			return slog.StringValue("<nil>")
		}
		return slog.GroupValue(
			slog.Int("status", res.Status),
			slog.String("reason", res.Reason),
			slog.String("call_id", res.CallID),
			slog.Any("cseq", res.CSeq),
			slog.String("branch", res.Branch()),
		)
	}),
)

// Def is a default console logger.
var Def = slog.New(NewHandler(
	console.NewHandler(os.Stdout, &console.HandlerOptions{
		AddSource:  true,
		Level:      slog.LevelDebug,
		TimeFormat: time.RFC3339Nano,
	}),
))

// Dev is a developer logger.
var Dev = slog.New(NewHandler(
	devslog.NewHandler(os.Stdout, &devslog.Options{
		HandlerOptions: &slog.HandlerOptions{
			AddSource: true,
			Level:     slog.LevelDebug,
		},
		SortKeys:   true,
		TimeFormat: time.RFC3339Nano,
	}),
))

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop is a noop logger.
var Noop = slog.New(noopHandler{})

// Default returns the logger used when none is configured.
// It follows [slog.Default] so applications control the output.
func Default() *slog.Logger { return slog.Default() }

type calcValue struct{ fn func() any }

func (v calcValue) LogValue() slog.Value {
	switch cv := v.fn().(type) {
	case slog.Value:
		return cv
	default:
		return slog.AnyValue(cv)
	}
}

// CalcValue returns a value logger that computes a value using fn
// only when the record is actually handled.
func CalcValue(fn func() any) slog.LogValuer { return calcValue{fn} }
