// Command client submits commands to a BFT-Raft cluster and prints
// the response, forwarding/redirect included.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bftraft/keys"
	"bftraft/raft"
	"bftraft/statemachine"
	"bftraft/transport"
)

type clientEnv struct {
	clientId   raft.ClientId
	listenAddr string
	privateKey string
	nodeAddrs  map[string]string
}

func main() {
	var env clientEnv
	var nodeAddrFlags []string

	root := &cobra.Command{Use: "client"}
	root.PersistentFlags().StringVar((*string)(&env.clientId), "client-id", "", "this client's id")
	root.PersistentFlags().StringVar(&env.listenAddr, "listen", "127.0.0.1:0", "address this client listens on for responses")
	root.PersistentFlags().StringVar(&env.privateKey, "private-key", "", "hex-encoded ed25519 private key")
	root.PersistentFlags().StringArrayVar(&nodeAddrFlags, "node", nil, "node-id=address, repeatable")

	root.AddCommand(putCommand(&env, &nodeAddrFlags))
	root.AddCommand(deleteCommand(&env, &nodeAddrFlags))
	root.AddCommand(revolutionCommand(&env, &nodeAddrFlags))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseNodeAddrs(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		id, addr, found := strings.Cut(f, "=")
		if !found || id == "" || addr == "" {
			return nil, fmt.Errorf("client: --node must be id=address, got %q", f)
		}
		out[id] = addr
	}
	return out, nil
}

func dial(env *clientEnv, nodeAddrFlags *[]string) (*transport.GRPCTransport, error) {
	addrs, err := parseNodeAddrs(*nodeAddrFlags)
	if err != nil {
		return nil, err
	}
	tr, err := transport.NewGRPCTransport(env.listenAddr, raft.NodeId(env.clientId), true)
	if err != nil {
		return nil, err
	}
	for id, addr := range addrs {
		tr.AddPeer(raft.NodeId(id), addr)
	}
	return tr, nil
}

// submit broadcasts cmd to every known node and waits up to three
// seconds for the first CommandResponse carrying cmd's RequestId. That
// response may be a follower's leader hint with no result; no redirect
// is followed and the command is not resent.
func submit(env *clientEnv, tr *transport.GRPCTransport, cmd raft.Command) (raft.CommandResponse, error) {
	signer, err := keys.NewSigner(env.privateKey)
	if err != nil {
		return raft.CommandResponse{}, err
	}
	msg, err := raft.SigningBytes(cmd)
	if err != nil {
		return raft.CommandResponse{}, err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return raft.CommandResponse{}, err
	}
	cmd = raft.WithSignature(cmd, sig).(raft.Command)

	payload, err := raft.EncodeRPC(cmd)
	if err != nil {
		return raft.CommandResponse{}, err
	}

	for _, id := range tr.PeerIds() {
		_ = tr.Send(id, payload, sig)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			return raft.CommandResponse{}, fmt.Errorf("client: timed out waiting for response")
		default:
		}
		ev, ok := tr.Recv()
		if !ok {
			return raft.CommandResponse{}, fmt.Errorf("client: transport closed")
		}
		if resp, ok := ev.RPC.(raft.CommandResponse); ok && resp.RequestId == cmd.RequestId {
			return resp, nil
		}
	}
}

func putCommand(env *clientEnv, nodeAddrFlags *[]string) *cobra.Command {
	return &cobra.Command{
		Use:  "put KEY VALUE",
		Args: cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			tr, err := dial(env, nodeAddrFlags)
			if err != nil {
				return err
			}
			defer tr.Close()

			entry, err := statemachine.EncodePut(args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			resp, err := submit(env, tr, raft.Command{
				Entry:     entry,
				ClientId:  env.clientId,
				RequestId: raft.RequestId(uuid.NewString()),
			})
			if err != nil {
				return err
			}
			fmt.Printf("ok, previous=%q leader=%s\n", resp.Result, resp.LeaderHint)
			return nil
		},
	}
}

func deleteCommand(env *clientEnv, nodeAddrFlags *[]string) *cobra.Command {
	return &cobra.Command{
		Use:  "delete KEY",
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			tr, err := dial(env, nodeAddrFlags)
			if err != nil {
				return err
			}
			defer tr.Close()

			entry, err := statemachine.EncodeDelete(args[0])
			if err != nil {
				return err
			}
			resp, err := submit(env, tr, raft.Command{
				Entry:     entry,
				ClientId:  env.clientId,
				RequestId: raft.RequestId(uuid.NewString()),
			})
			if err != nil {
				return err
			}
			fmt.Printf("ok, previous=%q leader=%s\n", resp.Result, resp.LeaderHint)
			return nil
		},
	}
}

func revolutionCommand(env *clientEnv, nodeAddrFlags *[]string) *cobra.Command {
	return &cobra.Command{
		Use:  "revolution LEADER_ID",
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			tr, err := dial(env, nodeAddrFlags)
			if err != nil {
				return err
			}
			defer tr.Close()

			signer, err := keys.NewSigner(env.privateKey)
			if err != nil {
				return err
			}
			rev := raft.Revolution{ClientId: env.clientId, LeaderId: raft.NodeId(args[0])}
			msg, err := raft.SigningBytes(rev)
			if err != nil {
				return err
			}
			sig, err := signer.Sign(msg)
			if err != nil {
				return err
			}
			rev = raft.WithSignature(rev, sig).(raft.Revolution)

			payload, err := raft.EncodeRPC(rev)
			if err != nil {
				return err
			}
			for _, id := range tr.PeerIds() {
				if err := tr.Send(id, payload, sig); err != nil {
					fmt.Fprintf(os.Stderr, "client: send to %s: %v\n", id, err)
				}
			}
			fmt.Println("revolution broadcast")
			return nil
		},
	}
}
