package session

import (
	"context"
	"io"
	"sync"
)

// PromptRequest asks the front end for one line of program input.
// Exactly one of Respond or Cancel should be called; later calls are ignored.
type PromptRequest struct {
	reply chan promptReply
	once  sync.Once
}

type promptReply struct {
	value     string
	cancelled bool
}

func newPromptRequest() *PromptRequest {
	return &PromptRequest{reply: make(chan promptReply, 1)}
}

// Respond supplies value as the next input line.
func (p *PromptRequest) Respond(value string) {
	p.once.Do(func() { p.reply <- promptReply{value: value} })
}

// Cancel declines the request; the program observes end of input.
func (p *PromptRequest) Cancel() {
	p.once.Do(func() { p.reply <- promptReply{cancelled: true} })
}

// promptReader is the engine's stdin for one run. Each Read that finds no
// buffered input publishes a PromptRequest and waits for the answer.
type promptReader struct {
	ctx      context.Context
	requests chan<- *PromptRequest
	buf      []byte
	eof      bool
}

func (r *promptReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		req := newPromptRequest()
		select {
		case r.requests <- req:
		case <-r.ctx.Done():
			r.eof = true
			return 0, io.EOF
		}
		select {
		case rep := <-req.reply:
			if rep.cancelled {
				r.eof = true
				return 0, io.EOF
			}
			r.buf = append(r.buf, rep.value...)
			r.buf = append(r.buf, '\n')
		case <-r.ctx.Done():
			r.eof = true
			return 0, io.EOF
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
