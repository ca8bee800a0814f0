package peerchef

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
)

// CommandKind enumerates the operator vocabulary.
type CommandKind uint8

const (
	CmdUnknown CommandKind = iota
	CmdListPeers
	CmdListMembers
	CmdListRecipes
	CmdRequestAll
	CmdRequestPeer
	CmdExit
)

func (k CommandKind) String() string {
	switch k {
	case CmdListPeers:
		return "ls_peers"
	case CmdListMembers:
		return "ls_members"
	case CmdListRecipes:
		return "ls_recipes"
	case CmdRequestAll:
		return "request_all"
	case CmdRequestPeer:
		return "request_peer"
	case CmdExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Command is a parsed operator line. Target is only set for
// `CmdRequestPeer`.
type Command struct {
	Kind   CommandKind
	Target peer.ID
	Line   string
}

// ParseCommand matches a line against the operator vocabulary:
//
//	ls p            print discovered peers
//	ls m            print the partial view
//	ls r            print local recipes
//	ls r all        ask every peer for its public recipes
//	ls r <peer id>  ask a single peer
//	exit            stop the node
//
// A `ls r` naming an invalid peer ID returns `ErrInvalidPeer`, anything
// else not in the vocabulary returns `ErrUnknownCommand`.
func ParseCommand(line string) (Command, error) {
	cmd := Command{Line: line}
	fields := strings.Fields(line)

	switch {
	case len(fields) == 1 && fields[0] == "exit":
		cmd.Kind = CmdExit
	case len(fields) == 2 && fields[0] == "ls" && fields[1] == "p":
		cmd.Kind = CmdListPeers
	case len(fields) == 2 && fields[0] == "ls" && fields[1] == "m":
		cmd.Kind = CmdListMembers
	case len(fields) == 2 && fields[0] == "ls" && fields[1] == "r":
		cmd.Kind = CmdListRecipes
	case len(fields) == 3 && fields[0] == "ls" && fields[1] == "r" && fields[2] == "all":
		cmd.Kind = CmdRequestAll
	case len(fields) == 3 && fields[0] == "ls" && fields[1] == "r":
		target, err := peer.Decode(fields[2])
		if err != nil {
			return cmd, fmt.Errorf("%w: %w", ErrInvalidPeer, err)
		}
		cmd.Kind = CmdRequestPeer
		cmd.Target = target
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}
	return cmd, nil
}

// ReadLines feeds the lines of r into the returned channel until r is
// exhausted or ctx is done, then closes it. A reader blocked in Read only
// notices ctx once it returns.
func ReadLines(ctx context.Context, r io.Reader) <-chan string {
	scanned := make(chan string)
	go func() {
		defer close(scanned)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case scanned <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			select {
			case line, ok := <-scanned:
				if !ok {
					return
				}
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
