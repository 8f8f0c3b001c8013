package log

import (
	"context"
	"io"
	"os"

	"github.com/finch-technologies/qluent/log/zero"
	"github.com/rs/zerolog"
)

var hasInit bool = false

func Init() {

	if hasInit {
		return
	}

	z := zero.New(context.Background(), nil)

	zerolog.DefaultContextLogger = z.GetLogger()

	hasInit = true
}

// New returns a logger whose entries carry the exported fields of ctxFields
// (a struct) as string attributes.
func New(ctx context.Context, ctxFields interface{}) LoggerInterface {
	Init()

	logdriver := os.Getenv("LOG_DRIVER")

	var logger LoggerInterface

	switch logdriver {
	case "zerolog":
		logger = zero.New(ctx, ctxFields)
	default:
		logger = zero.New(ctx, ctxFields)
	}

	return logger
}

// NewWithWriter is New with every entry also copied to w.
func NewWithWriter(ctx context.Context, ctxFields interface{}, w io.Writer) LoggerInterface {
	Init()
	return zero.New(ctx, ctxFields, w)
}

// Nop discards everything.
func Nop() LoggerInterface {
	return zero.Nop()
}
