// confirm.go implements the interactive permission confirmer: the permission
// engine sends requests on a channel and this goroutine owns the prompt.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/magpie-ai/magpie/internal/permission"
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// runConfirmer serves confirmation requests until the context ends. Prompts
// go to stderr so piped stdout stays clean.
func runConfirmer(ctx context.Context, requests <-chan permission.ConfirmRequest) {
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			req.Reply <- prompt(reader, req)
		}
	}
}

func prompt(reader *bufio.Reader, req permission.ConfirmRequest) permission.Answer {
	fmt.Fprintf(os.Stderr, "\n%s wants to run %s(%s)\n", permission.Product, req.Tool, req.Rendered)
	if req.Description != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", req.Description)
	}
	fmt.Fprint(os.Stderr, "Allow? [y]es once / [s]ession / [p]roject / [n]o / [a]bort: ")

	line, err := reader.ReadString('\n')
	if err != nil {
		return permission.AnswerAbort
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return permission.AnswerAllowOnce
	case "s", "session":
		return permission.AnswerAllowSession
	case "p", "project":
		return permission.AnswerAllowProject
	case "a", "abort":
		return permission.AnswerAbort
	default:
		return permission.AnswerDeny
	}
}
