package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/depools/mms/client/api/http_api/responses"
	"github.com/depools/mms/client/services/node"
	"github.com/depools/mms/client/types"
)

type Response struct {
	ErrorMessage string      `json:"error_message,omitempty"`
	Result       interface{} `json:"result"`
}

type StatusResponse struct {
	ErrorMessage string           `json:"error_message,omitempty"`
	Result       *node.StatusInfo `json:"result"`
}

type RegistryResponse struct {
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       *types.Registry `json:"result"`
}

type SignersResponse struct {
	ErrorMessage string         `json:"error_message,omitempty"`
	Result       []types.Signer `json:"result"`
}

type SignerResponse struct {
	ErrorMessage string        `json:"error_message,omitempty"`
	Result       *types.Signer `json:"result"`
}

type MessagesResponse struct {
	ErrorMessage string           `json:"error_message,omitempty"`
	Result       []*types.Message `json:"result"`
}

type MessageResponse struct {
	ErrorMessage string         `json:"error_message,omitempty"`
	Result       *types.Message `json:"result"`
}

type TokensResponse struct {
	ErrorMessage string            `json:"error_message,omitempty"`
	Result       map[uint32]string `json:"result"`
}

type DecisionResponse struct {
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       *types.Decision `json:"result"`
}

type NextResponse struct {
	ErrorMessage string                `json:"error_message,omitempty"`
	Result       *responses.NextResult `json:"result"`
}

type CountResponse struct {
	ErrorMessage string `json:"error_message,omitempty"`
	Result       int    `json:"result"`
}

type BlobResponse struct {
	ErrorMessage string `json:"error_message,omitempty"`
	Result       []byte `json:"result"`
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

// parseThresholds parses an "M/N" argument.
func parseThresholds(arg string) (uint32, uint32, error) {
	parts := strings.SplitN(arg, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected M/N, got %q", arg)
	}
	threshold, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad threshold %q: %v", parts[0], err)
	}
	signers, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad signer count %q: %v", parts[1], err)
	}
	return uint32(threshold), uint32(signers), nil
}

func coloredState(state types.MessageState) string {
	switch state {
	case types.StateWaiting:
		return yellow(state)
	case types.StateReadyToSend:
		return cyan(state)
	case types.StateSent:
		return green(state)
	case types.StateProcessed:
		return green(state)
	default:
		return string(state)
	}
}

func renderMessageRow(m *types.Message) string {
	return fmt.Sprintf("%4d  %-20s  %-3s  %-13s  signer=%d  round=%d  %d bytes",
		m.ID, m.Type, m.Direction, coloredState(m.State), m.SignerIndex, m.Round, len(m.Content))
}

func renderSignerRow(s *types.Signer) string {
	label := s.Label
	if label == "" {
		label = "<not set>"
	}
	transport := s.TransportAddress
	if transport == "" {
		transport = red("<unknown>")
	}
	address := s.PublicAddress
	if !s.AddressKnown {
		address = red("<unknown>")
	}
	me := " "
	if s.Me() {
		me = "*"
	}
	return fmt.Sprintf("%s %3d  %-16s  transport=%s  address=%s", me, s.Index, label, transport, address)
}

func renderStatus(info *node.StatusInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transport address: %s\n", info.TransportAddr)
	fmt.Fprintf(&b, "Wallet phase:      %s", coloredPhase(string(info.Wallet.Phase)))
	if info.Wallet.Address != "" {
		fmt.Fprintf(&b, " (%s)", info.Wallet.Address)
	}
	fmt.Fprintf(&b, "\n")
	if info.Registry != nil {
		fmt.Fprintf(&b, "Multisig:          %d/%d\n", info.Registry.Threshold, info.Registry.NumSigners)
	}
	fmt.Fprintf(&b, "Wallet height:     %d (sync round %d)\n", info.Wallet.Height, info.Wallet.SyncRound)
	fmt.Fprintf(&b, "Messages:          %d total, %s waiting, %s ready to send\n",
		info.Messages, yellow(info.Waiting), cyan(info.ReadyToSend))
	fmt.Fprintf(&b, "Transport offset:  %d\n", info.Offset)
	fmt.Fprintf(&b, "Auto send:         %v", info.AutoSend)
	return b.String()
}

func coloredPhase(phase string) string {
	switch phase {
	case "finalized":
		return green(phase)
	case "not_multisig":
		return red(phase)
	default:
		return yellow(phase)
	}
}
