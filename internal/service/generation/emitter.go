package generation

import (
	"github.com/zhouzirui/z-relay/backend/internal/model/relay"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/internal/textproc"
)

// emitter holds back the most recent chunk so the last one of a generation
// can be flagged last=true.
type emitter struct {
	session *session.Session
	id      uint64
	lang    string

	held    string
	hasHeld bool
	sent    int
}

func (e *emitter) push(chunk string) error {
	chunk = textproc.Normalize(chunk, e.lang)
	if chunk == "" {
		return nil
	}
	if e.hasHeld {
		if err := e.send(e.held, false); err != nil {
			return err
		}
	}
	e.held, e.hasHeld = chunk, true
	return nil
}

func (e *emitter) produced() bool {
	return e.hasHeld || e.sent > 0
}

// finish sends the held chunk as the last one, or fallback when nothing was
// produced at all.
func (e *emitter) finish(fallback string) error {
	if !e.hasHeld {
		return e.send(fallback, true)
	}
	e.hasHeld = false
	return e.send(e.held, true)
}

// fail flushes the held chunk and closes the generation with apology.
func (e *emitter) fail(apology string) error {
	if e.hasHeld {
		e.hasHeld = false
		if err := e.send(e.held, false); err != nil {
			return err
		}
	}
	return e.send(apology, true)
}

func (e *emitter) send(token string, last bool) error {
	if err := e.session.Send(e.id, relay.NewText(token, last, e.lang)); err != nil {
		return err
	}
	e.sent++
	return nil
}
