package orchestrator

import (
	"strings"

	"github.com/pkg/errors"
)

// Step names the stage a failed workflow stopped at.
type Step string

const (
	StepMint     Step = "mint"
	StepQuery    Step = "query"
	StepTransfer Step = "transfer"
	StepHandler  Step = "handler"
)

// State is a node of the workflow state machine.
type State int

const (
	StateIdle State = iota
	StateMintPending
	StateMintConfirmed
	StateQueryPending
	StateQueryResolved
	StateTransferPending
	StateTransferConfirmed
	StateMintFailed
	StateQueryFailed
	StateTransferFailed
	StateHandlerFailed
)

var stateNames = map[State]string{
	StateIdle:              "Idle",
	StateMintPending:       "MintPending",
	StateMintConfirmed:     "MintConfirmed",
	StateQueryPending:      "QueryPending",
	StateQueryResolved:     "QueryResolved",
	StateTransferPending:   "TransferPending",
	StateTransferConfirmed: "TransferConfirmed",
	StateMintFailed:        "MintFailed",
	StateQueryFailed:       "QueryFailed",
	StateTransferFailed:    "TransferFailed",
	StateHandlerFailed:     "HandlerFailed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s >= StateTransferConfirmed
}

// Request is the caller-supplied input of one workflow.
type Request struct {
	Receiver    string
	Destination string
	// TokenID is required when the mint step is disabled and ignored otherwise.
	TokenID string
}

func (r Request) validate(needTokenID bool) error {
	var missing []string
	if strings.TrimSpace(r.Receiver) == "" {
		missing = append(missing, "receiver")
	}
	if strings.TrimSpace(r.Destination) == "" {
		missing = append(missing, "destination")
	}
	if needTokenID && strings.TrimSpace(r.TokenID) == "" {
		missing = append(missing, "tokenId")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Result is the tagged outcome of one workflow.
type Result struct {
	Success    bool
	TransferTx string
	// MintTx is set once a mint confirmed, including when a later step failed.
	MintTx string
	Step   Step
	Err    error
	State  State
}

// Response is the JSON body returned to the caller.
type Response struct {
	Success    bool   `json:"success"`
	TransferTx string `json:"transferTx,omitempty"`
	Step       Step   `json:"step,omitempty"`
	Error      string `json:"error,omitempty"`
	MintTx     string `json:"mintTx,omitempty"`
}

// Response renders r. Success bodies carry only the transfer hash; failures carry the
// step and message, and the mint hash when the mint already landed on-chain.
func (r Result) Response() Response {
	if r.Success {
		return Response{Success: true, TransferTx: r.TransferTx}
	}
	resp := Response{Success: false, Step: r.Step, MintTx: r.MintTx}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	if resp.Step == "" {
		resp.Step = StepHandler
	}
	return resp
}
