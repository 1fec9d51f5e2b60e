package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// RegisterBuiltins adds the entry points every harness binary provides:
//
//	echo ARGS...     writes its arguments to stdout
//	sleep DURATION   waits, honoring cancellation
//	fail [MESSAGE]   always fails
//	env NAME...      prints the named variables of the test environment
func RegisterBuiltins(e *EntryPoints) {
	e.Register("echo", echo)
	e.Register("sleep", sleep)
	e.Register("fail", fail)
	e.Register("env", printEnv)
}

func echo(_ context.Context, args, _ []string, stdout, _ io.Writer) error {
	_, err := fmt.Fprintln(stdout, strings.Join(args, " "))
	return err
}

func sleep(ctx context.Context, args, _ []string, _, _ io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: sleep DURATION")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func fail(_ context.Context, args, _ []string, _, stderr io.Writer) error {
	msg := "failed"
	if len(args) > 0 {
		msg = strings.Join(args, " ")
	}
	fmt.Fprintln(stderr, msg)
	return errors.New(msg)
}

func printEnv(_ context.Context, args, env []string, stdout, _ io.Writer) error {
	for _, name := range args {
		fmt.Fprintf(stdout, "%s=%s\n", name, Getenv(env, name))
	}
	return nil
}
