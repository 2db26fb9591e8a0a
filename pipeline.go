package rediswire

import (
	"context"

	"github.com/flancast90/rediswire-go/resp"
)

// Pipeline collects commands client-side and sends them as one batch: a
// single contiguous write, replies read back in order. Nothing touches the
// network until Exec.
//
//	p := db.Pipeline()
//	p.Do("SET", "a", "1")
//	p.Do("SET", "b", "2")
//	p.Do("MGET", "a", "b")
//	replies, err := p.Exec(ctx)
//
// Exec is fail-fast: the first error frame aborts the batch with a
// *PipelineError carrying the failing command's index, and replies after it
// are never parsed. A Pipeline is not safe for concurrent use; each
// goroutine builds its own.
type Pipeline struct {
	router Router
	cmds   [][]string
}

// Do queues one command and returns the pipeline for chaining.
func (p *Pipeline) Do(args ...string) *Pipeline {
	p.cmds = append(p.cmds, args)
	return p
}

// Len reports the number of queued commands.
func (p *Pipeline) Len() int { return len(p.cmds) }

// Exec sends the batch and returns one decoded reply per command, in
// order. An empty pipeline returns an empty slice without touching the
// network. The queue is cleared afterwards so the Pipeline can be reused.
func (p *Pipeline) Exec(ctx context.Context) ([]resp.Value, error) {
	cmds := p.cmds
	p.cmds = nil
	return p.router.ExecutePipeline(ctx, cmds)
}
