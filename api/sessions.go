package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/ragchat/rag"
)

// session binds one pipeline, and therefore one conversation history,
// to an ID. Requests sharing a session serialize on the pipeline's own
// mutex.
type session struct {
	id         string
	pipeline   *rag.Pipeline
	lastActive time.Time
}

// sessionPool hands out pipelines by session ID, creating them on
// demand and evicting the longest-idle session once the cap is reached.
type sessionPool struct {
	max     int
	factory PipelineFactory

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionPool(max int, factory PipelineFactory) *sessionPool {
	return &sessionPool{
		max:      max,
		factory:  factory,
		sessions: make(map[string]*session),
	}
}

// acquire returns the session for id, creating it when unknown. A blank
// id gets a freshly generated one.
func (p *sessionPool) acquire(id string) (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}

	if sess, ok := p.sessions[id]; ok {
		sess.lastActive = time.Now()
		return sess, nil
	}

	pipeline, err := p.factory()
	if err != nil {
		return nil, err
	}

	if len(p.sessions) >= p.max {
		p.evictOldest()
	}

	sess := &session{id: id, pipeline: pipeline, lastActive: time.Now()}
	p.sessions[id] = sess
	return sess, nil
}

func (p *sessionPool) evictOldest() {
	var oldest *session
	for _, sess := range p.sessions {
		if oldest == nil || sess.lastActive.Before(oldest.lastActive) {
			oldest = sess
		}
	}
	if oldest != nil {
		delete(p.sessions, oldest.id)
	}
}

func (p *sessionPool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]*session)
}

func (p *sessionPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
