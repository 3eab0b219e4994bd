// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"
)

// Protocol methods used for editor round-trips.
const (
	showChoicePromptMethod = "powerShell/showChoicePrompt"
	showInputPromptMethod  = "powerShell/showInputPrompt"
)

var (
	// ErrPromptAlreadyActive is returned when a prompt is requested while
	// another one is still awaiting the user's answer.
	ErrPromptAlreadyActive = errors.New("another prompt is already active")

	// ErrNoChoices is returned for a choice prompt with an empty choice set.
	ErrNoChoices = errors.New("choice prompt requires at least one choice")
)

// RequestSender is the slice of the message dispatcher the prompt service
// needs: sending a request and awaiting its response.
type RequestSender interface {
	SendRequest(method string, params any) (*concurrency.Future[json.RawMessage], error)
}

// ChoiceDetails is the wire form of one prompt choice.
type ChoiceDetails struct {
	Label       string `json:"label"`
	HelpMessage string `json:"helpMessage,omitempty"`
}

type showChoicePromptParams struct {
	IsMultiChoice  bool            `json:"isMultiChoice"`
	Caption        string          `json:"caption"`
	Message        string          `json:"message"`
	Choices        []ChoiceDetails `json:"choices"`
	DefaultChoices []int           `json:"defaultChoices,omitempty"`
}

type showInputPromptParams struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

type promptResponse struct {
	PromptCancelled bool   `json:"promptCancelled"`
	ResponseText    string `json:"responseText"`
}

// Service presents prompts to the user through the editor connection. Only
// one prompt may be active at a time; a second request is rejected rather
// than queued, since a queued prompt would answer a question the user is no
// longer being asked.
type Service struct {
	log    logr.Logger
	sender RequestSender
	active *concurrency.ContextAwareLock
}

func NewService(log logr.Logger, sender RequestSender) *Service {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Service{
		log:    log,
		sender: sender,
		active: concurrency.NewContextAwareLock(),
	}
}

// ShowChoicePrompt asks the user to pick one choice. It returns the clean
// label of the selection, or ok=false when the prompt was cancelled or timed
// out. Empty input selects the default choice.
func (s *Service) ShowChoicePrompt(ctx context.Context, caption, message string, choices []Choice, defaultChoice int) (selected string, ok bool, err error) {
	indices, ok, err := s.showChoicePrompt(ctx, caption, message, choices, []int{defaultChoice}, false)
	if err != nil || !ok {
		return "", ok, err
	}
	return choices[indices[0]].CleanLabel(), true, nil
}

// ShowMultiChoicePrompt asks the user to pick any number of choices from a
// comma-separated answer. It returns the clean labels of the selections, or
// ok=false when the prompt was cancelled or timed out.
func (s *Service) ShowMultiChoicePrompt(ctx context.Context, caption, message string, choices []Choice, defaultChoices []int) (selected []string, ok bool, err error) {
	indices, ok, err := s.showChoicePrompt(ctx, caption, message, choices, defaultChoices, true)
	if err != nil || !ok {
		return nil, ok, err
	}

	labels := make([]string, len(indices))
	for i, choiceIndex := range indices {
		labels[i] = choices[choiceIndex].CleanLabel()
	}
	return labels, true, nil
}

// ShowInputPrompt asks the user for a line of free-form input.
func (s *Service) ShowInputPrompt(ctx context.Context, name, label string) (input string, ok bool, err error) {
	if lockErr := s.acquire(); lockErr != nil {
		return "", false, lockErr
	}
	defer s.active.Unlock()

	resp, roundTripErr := s.roundTrip(ctx, showInputPromptMethod, showInputPromptParams{Name: name, Label: label})
	if roundTripErr != nil {
		return "", false, roundTripErr
	}
	if resp == nil || resp.PromptCancelled {
		return "", false, nil
	}
	return resp.ResponseText, true, nil
}

func (s *Service) showChoicePrompt(ctx context.Context, caption, message string, choices []Choice, defaultChoices []int, multi bool) ([]int, bool, error) {
	if len(choices) == 0 {
		return nil, false, ErrNoChoices
	}
	for _, d := range defaultChoices {
		if d < 0 || d >= len(choices) {
			return nil, false, fmt.Errorf("default choice index %d out of range", d)
		}
	}
	if lockErr := s.acquire(); lockErr != nil {
		return nil, false, lockErr
	}
	defer s.active.Unlock()

	params := showChoicePromptParams{
		IsMultiChoice:  multi,
		Caption:        caption,
		Message:        message,
		Choices:        wireChoices(choices),
		DefaultChoices: defaultChoices,
	}

	for {
		resp, roundTripErr := s.roundTrip(ctx, showChoicePromptMethod, params)
		if roundTripErr != nil {
			return nil, false, roundTripErr
		}
		if resp == nil || resp.PromptCancelled {
			return nil, false, nil
		}

		if resp.ResponseText == "" {
			return defaultChoices, true, nil
		}

		if !multi {
			if i := matchChoice(resp.ResponseText, choices); i >= 0 {
				return []int{i}, true, nil
			}
			s.log.V(1).Info("prompt answer matched no choice, asking again", "answer", resp.ResponseText)
			continue
		}

		indices := matchChoices(resp.ResponseText, choices)
		if len(indices) == 0 {
			// Every token was dropped; accepting here would silently pick
			// the default against the user's explicit input.
			s.log.V(1).Info("prompt answer matched no choices, asking again", "answer", resp.ResponseText)
			continue
		}
		return indices, true, nil
	}
}

// roundTrip sends one prompt request and awaits its response. A cancelled
// context or a cancelled editor-side prompt yields (nil, nil).
func (s *Service) roundTrip(ctx context.Context, method string, params any) (*promptResponse, error) {
	future, sendErr := s.sender.SendRequest(method, params)
	if sendErr != nil {
		return nil, sendErr
	}

	raw, futureErr := future.Wait(ctx)
	switch {
	case errors.Is(futureErr, context.Canceled) || errors.Is(futureErr, context.DeadlineExceeded):
		s.log.V(1).Info("prompt cancelled", "method", method, "reason", futureErr.Error())
		return nil, nil
	case futureErr != nil:
		return nil, fmt.Errorf("prompt round-trip failed: %w", futureErr)
	}

	var resp promptResponse
	if unmarshalErr := json.Unmarshal(raw, &resp); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to decode prompt response: %w", unmarshalErr)
	}
	return &resp, nil
}

func (s *Service) acquire() error {
	if !s.active.TryLock() {
		s.log.Error(ErrPromptAlreadyActive, "rejecting prompt request")
		return ErrPromptAlreadyActive
	}
	return nil
}

func wireChoices(choices []Choice) []ChoiceDetails {
	wire := make([]ChoiceDetails, len(choices))
	for i, c := range choices {
		wire[i] = ChoiceDetails{Label: c.Label, HelpMessage: c.HelpMessage}
	}
	return wire
}
