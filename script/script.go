// Package script evaluates attribute scripts in pooled V8 isolates. A script
// attribute holds JavaScript whose final expression value becomes the
// attribute's rendered text.
package script

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"rogchap.com/v8go"

	"github.com/codekulturbonn/textsmith"
)

// DefaultTimeout bounds a single evaluation. Scripts run inline while
// rendering output, so runaway scripts must be cut short.
const DefaultTimeout = 100 * time.Millisecond

var machines chan *machine

func init() {
	machines = make(chan *machine, runtime.NumCPU())
	for i := 0; i < runtime.NumCPU(); i++ {
		machines <- &machine{iso: v8go.NewIsolate()}
	}
}

type machine struct {
	iso *v8go.Isolate
}

var ErrTimeout = fmt.Errorf("Timeout")

type result struct {
	value string
	err   error
}

// Runner evaluates script sources with a per-run timeout.
type Runner struct {
	Timeout time.Duration
}

func New() *Runner {
	return &Runner{Timeout: DefaultTimeout}
}

// Eval runs the source in a fresh context on a pooled isolate and returns
// the final expression value as a string. Globals do not survive between
// evaluations.
func (r *Runner) Eval(ctx context.Context, source string) (string, error) {
	m := <-machines
	defer func() { machines <- m }()

	vctx := v8go.NewContext(m.iso)
	defer vctx.Close()

	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	results := make(chan result, 1)
	go func() {
		val, err := vctx.RunScript(source, "attribute.js")
		if err != nil {
			results <- result{err: err}
			return
		}
		results <- result{value: val.String()}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return "", textsmith.WithStack(res.err)
		}
		return res.value, nil
	case <-ctx.Done():
		m.iso.TerminateExecution()
		<-results
		return "", textsmith.WithStack(ctx.Err())
	case <-time.After(timeout):
		m.iso.TerminateExecution()
		<-results
		return "", textsmith.WithStack(ErrTimeout)
	}
}
