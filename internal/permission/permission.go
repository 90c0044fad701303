// Package permission implements the mode-driven policy deciding whether a
// tool call proceeds silently, requires interactive confirmation, or is
// denied, plus the persistent and session allow-lists behind it.
package permission

import (
	"context"
	"errors"
	"fmt"
)

// ErrAborted reports that the request was cancelled before or during a
// permission decision.
var ErrAborted = errors.New("permission check aborted")

// Decision is the outcome of a permission check.
type Decision struct {
	Granted bool
	// Reason carries the denial text shown to the model when not granted.
	Reason string
}

func granted() Decision { return Decision{Granted: true} }

func denied(reason string) Decision { return Decision{Reason: reason} }

// Product is the name used in user-visible permission text.
const Product = "Magpie"

// highRiskDenial is returned for destructive shell commands regardless of
// any prior grant.
const highRiskDenial = "Dangerous command requires explicit confirmation every time."

// canonicalDenial is the default denial text for an ungranted tool.
func canonicalDenial(tool string) string {
	return fmt.Sprintf("%s requested permissions to use %s, but you haven't granted it yet.", Product, tool)
}

// Answer is the user's reply to a confirmation request.
type Answer int

const (
	AnswerDeny Answer = iota
	AnswerAllowOnce
	AnswerAllowSession
	AnswerAllowProject
	AnswerAbort
)

// ConfirmRequest asks the user to approve one tool call. The engine sends it
// on its confirmer channel and waits on Reply; the UI owns the prompt.
type ConfirmRequest struct {
	Tool        string
	Rendered    string
	Description string
	Reply       chan Answer
}

// confirm escalates to the confirmer channel. A nil channel means no
// interactive confirmer is attached and the answer is deny.
func confirm(ctx context.Context, requests chan<- ConfirmRequest, req ConfirmRequest) (Answer, error) {
	if requests == nil {
		return AnswerDeny, nil
	}
	req.Reply = make(chan Answer, 1)
	select {
	case requests <- req:
	case <-ctx.Done():
		return AnswerAbort, ErrAborted
	}
	select {
	case answer := <-req.Reply:
		return answer, nil
	case <-ctx.Done():
		return AnswerAbort, ErrAborted
	}
}
