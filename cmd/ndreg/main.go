// Command ndreg estimates and applies translational registration between
// images and volumes.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
)

// main is the entrypoint for the ndreg command.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// run executes the command tree with the given arguments.
func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	root := newRootCmd()
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
