// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package intake reads newline-delimited JSON capture requests from a stream,
// typically standard input, and submits each one without waiting for a reply.
package intake

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/shot"
)

const maxLine = 1 << 20

// Capturer runs one capture.
type Capturer interface {
	Capture(ctx context.Context, req shot.Request) (shot.Result, error)
}

// Reader consumes requests from r.
type Reader struct {
	r      io.Reader
	shots  Capturer
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New returns a Reader for r.
func New(r io.Reader, shots Capturer) *Reader {
	return &Reader{r: r, shots: shots, logger: log.WithComponent("intake")}
}

// Run reads until EOF or ctx ends, then waits for submitted captures to
// return. EOF is not an error: the daemon keeps serving HTTP.
func (rd *Reader) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(rd.r)
		sc.Buffer(make([]byte, 0, 64<<10), maxLine)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	defer rd.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-scanErr:
				default:
				}
				if err != nil {
					rd.logger.Error().Err(err).Str("event", "intake.read_failed").Msg("stopped reading capture requests")
					return err
				}
				rd.logger.Info().Str("event", "intake.eof").Msg("capture request stream closed")
				return nil
			}
			rd.handle(ctx, line)
		}
	}
}

func (rd *Reader) handle(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	var req shot.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		rd.logger.Warn().Err(err).Str("event", "intake.bad_json").Msg("ignoring malformed capture request")
		return
	}

	rd.wg.Add(1)
	go func() {
		defer rd.wg.Done()
		res, err := rd.shots.Capture(ctx, req)
		if err != nil {
			rd.logger.Warn().Err(err).
				Str("event", "intake.capture_failed").
				Str(log.FieldCamera, req.Camera).
				Str("kind", string(shot.KindOf(err))).
				Msg("queued capture failed")
			return
		}
		rd.logger.Info().
			Str("event", "intake.captured").
			Str(log.FieldCamera, res.Camera).
			Str(log.FieldFile, res.File).
			Msg("queued capture finished")
	}()
}
