package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

const (
	flagListenAddr = "listen_addr"
)

func init() {
	rootCmd.PersistentFlags().String(flagListenAddr, "localhost:8080", "Listen Address")
}

var rootCmd = &cobra.Command{
	Use:   "mms_cli",
	Short: "mms client cli utilities implementation",
}

func main() {
	rootCmd.AddCommand(
		initCommand(),
		signerCommand(),
		listCommand(),
		statusCommand(),
		nextCommand(),
		syncCommand(),
		deleteCommand(),
		sendCommand(),
		receiveCommand(),
		exportCommand(),
		noteCommand(),
		showCommand(),
		setCommand(),
		startAutoConfigCommand(),
		stopAutoConfigCommand(),
		autoConfigCommand(),
		transferCommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute root command: %v", err)
	}
}

func getRequest(url string, response interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()
	responseBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if err = json.Unmarshal(responseBody, response); err != nil {
		return fmt.Errorf("failed to unmarshal response: %v", err)
	}
	return nil
}

func postRequest(url string, request, response interface{}) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()
	responseBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if err = json.Unmarshal(responseBody, response); err != nil {
		return fmt.Errorf("failed to unmarshal response: %v", err)
	}
	return nil
}

func listenAddr(cmd *cobra.Command) (string, error) {
	addr, err := cmd.Flags().GetString(flagListenAddr)
	if err != nil {
		return "", fmt.Errorf("failed to read configuration: %v", err)
	}
	return addr, nil
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [M/N] [label] [public_address]",
		Args:  cobra.ExactArgs(3),
		Short: "initializes an M-of-N signer registry with the local signer in slot 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			threshold, signers, err := parseThresholds(args[0])
			if err != nil {
				return err
			}

			req := struct {
				Threshold     uint32 `json:"threshold"`
				Signers       uint32 `json:"signers"`
				Label         string `json:"label"`
				PublicAddress string `json:"public_address"`
			}{threshold, signers, args[1], args[2]}

			var response RegistryResponse
			if err := postRequest(fmt.Sprintf("http://%s/initWallet", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to init wallet: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to init wallet: %s", response.ErrorMessage)
			}
			fmt.Printf("initialized %d/%d wallet, %d signer slots to fill\n",
				response.Result.Threshold, response.Result.NumSigners, response.Result.NumSigners-1)
			return nil
		},
	}
}

func signerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "signer [index] [label] [transport_address] [public_address]",
		Args:  cobra.RangeArgs(0, 4),
		Short: "shows the signer registry, or updates one slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				var response SignersResponse
				if err := getRequest(fmt.Sprintf("http://%s/getSigners", addr), &response); err != nil {
					return fmt.Errorf("failed to get signers: %w", err)
				}
				if response.ErrorMessage != "" {
					return fmt.Errorf("failed to get signers: %s", response.ErrorMessage)
				}
				for i := range response.Result {
					fmt.Println(renderSignerRow(&response.Result[i]))
				}
				return nil
			}

			index, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("bad signer index %q: %v", args[0], err)
			}
			req := struct {
				Index            uint32 `json:"index"`
				Label            string `json:"label"`
				TransportAddress string `json:"transport_address"`
				PublicAddress    string `json:"public_address"`
			}{Index: uint32(index)}
			if len(args) > 1 {
				req.Label = args[1]
			}
			if len(args) > 2 {
				req.TransportAddress = args[2]
			}
			if len(args) > 3 {
				req.PublicAddress = args[3]
			}

			var response SignerResponse
			if err := postRequest(fmt.Sprintf("http://%s/setSigner", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to set signer: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to set signer: %s", response.ErrorMessage)
			}
			fmt.Println(renderSignerRow(response.Result))
			return nil
		},
	}
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "lists all messages in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			var response MessagesResponse
			if err := getRequest(fmt.Sprintf("http://%s/getMessages", addr), &response); err != nil {
				return fmt.Errorf("failed to get messages: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to get messages: %s", response.ErrorMessage)
			}
			if len(response.Result) == 0 {
				fmt.Println("no messages")
				return nil
			}
			for _, message := range response.Result {
				fmt.Println(renderMessageRow(message))
			}
			return nil
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "shows the wallet, registry and store state",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			var response StatusResponse
			if err := getRequest(fmt.Sprintf("http://%s/getStatus", addr), &response); err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to get status: %s", response.ErrorMessage)
			}
			fmt.Println(renderStatus(response.Result))
			return nil
		},
	}
}

func runNext(cmd *cobra.Command, forceSync bool) error {
	addr, err := listenAddr(cmd)
	if err != nil {
		return err
	}
	req := struct {
		Sync bool `json:"sync"`
	}{forceSync}

	var response NextResponse
	if err := postRequest(fmt.Sprintf("http://%s/next", addr), &req, &response); err != nil {
		return fmt.Errorf("failed to process next action: %w", err)
	}
	if response.ErrorMessage != "" {
		return fmt.Errorf("failed to process next action: %s", response.ErrorMessage)
	}

	result := response.Result
	if result.Executed != nil {
		fmt.Printf("executed: %s\n", green(result.Executed.String()))
	}
	if result.Decision != nil {
		for i, action := range result.Decision.Actions {
			if result.Executed != nil && i == 0 {
				continue
			}
			fmt.Printf("queued:   %s\n", action.String())
		}
		if result.Decision.WaitReason != "" {
			fmt.Println(yellow(result.Decision.WaitReason))
		}
	}
	return nil
}

func nextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next [sync]",
		Args:  cobra.MaximumNArgs(1),
		Short: "executes the next processable action, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			forceSync := len(args) == 1 && args[0] == "sync"
			if len(args) == 1 && !forceSync {
				return fmt.Errorf("unknown argument %q, did you mean \"sync\"?", args[0])
			}
			return runNext(cmd, forceSync)
		},
	}
}

func syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "forces a sync data exchange round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(cmd, true)
		},
	}
}

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id|all]",
		Args:  cobra.ExactArgs(1),
		Short: "deletes one message, or every message and the auto-config state",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}

			if args[0] == "all" {
				var response Response
				if err := postRequest(fmt.Sprintf("http://%s/deleteAllMessages", addr), struct{}{}, &response); err != nil {
					return fmt.Errorf("failed to delete messages: %w", err)
				}
				if response.ErrorMessage != "" {
					return fmt.Errorf("failed to delete messages: %s", response.ErrorMessage)
				}
				fmt.Println("all messages deleted")
				return nil
			}

			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("bad message id %q: %v", args[0], err)
			}
			req := struct {
				ID uint32 `json:"id"`
			}{uint32(id)}

			var response Response
			if err := postRequest(fmt.Sprintf("http://%s/deleteMessage", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to delete message: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to delete message: %s", response.ErrorMessage)
			}
			fmt.Printf("message %d deleted\n", id)
			return nil
		},
	}
}

func sendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send [id]",
		Args:  cobra.MaximumNArgs(1),
		Short: "sends all ready messages, or one specific message",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}

			req := struct {
				ID *uint32 `json:"id,omitempty"`
			}{}
			if len(args) == 1 {
				id, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("bad message id %q: %v", args[0], err)
				}
				id32 := uint32(id)
				req.ID = &id32
			}

			var response CountResponse
			if err := postRequest(fmt.Sprintf("http://%s/sendMessages", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to send messages: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to send messages: %s", response.ErrorMessage)
			}
			fmt.Printf("sent %d messages\n", response.Result)
			return nil
		},
	}
}

func receiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "receive",
		Short: "fetches new envelopes from the transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			var response CountResponse
			if err := postRequest(fmt.Sprintf("http://%s/receiveMessages", addr), struct{}{}, &response); err != nil {
				return fmt.Errorf("failed to receive messages: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to receive messages: %s", response.ErrorMessage)
			}
			fmt.Printf("received %d messages\n", response.Result)
			return nil
		},
	}
}

func exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [id]",
		Args:  cobra.ExactArgs(1),
		Short: "writes the raw content of a message to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("bad message id %q: %v", args[0], err)
			}

			var response BlobResponse
			if err := getRequest(fmt.Sprintf("http://%s/exportMessage?id=%d", addr, id), &response); err != nil {
				return fmt.Errorf("failed to export message: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to export message: %s", response.ErrorMessage)
			}

			fileName := fmt.Sprintf("mms_message_%d", id)
			if err := os.WriteFile(fileName, response.Result, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", fileName, err)
			}
			fmt.Printf("message %d content written to %s\n", id, fileName)
			return nil
		},
	}
}

func noteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "note [signer] [text...]",
		Args:  cobra.MinimumNArgs(2),
		Short: "queues a free-form note for a peer signer",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			recipient, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("bad signer index %q: %v", args[0], err)
			}

			req := struct {
				Recipient uint32 `json:"recipient"`
				Text      string `json:"text"`
			}{uint32(recipient), strings.Join(args[1:], " ")}

			var response MessageResponse
			if err := postRequest(fmt.Sprintf("http://%s/addNote", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to add note: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to add note: %s", response.ErrorMessage)
			}
			fmt.Printf("note queued as message %d\n", response.Result.ID)
			return nil
		},
	}
}

func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Args:  cobra.ExactArgs(1),
		Short: "shows one message in detail",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("bad message id %q: %v", args[0], err)
			}

			var response Response
			if err := getRequest(fmt.Sprintf("http://%s/showMessage?id=%d", addr, id), &response); err != nil {
				return fmt.Errorf("failed to show message: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to show message: %s", response.ErrorMessage)
			}
			rendered, ok := response.Result.(string)
			if !ok {
				return fmt.Errorf("unexpected response %v", response.Result)
			}
			fmt.Println(rendered)
			return nil
		},
	}
}

func setCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set [option] [value]",
		Args:  cobra.RangeArgs(1, 2),
		Short: "shows or changes a node option",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				var response Response
				if err := getRequest(fmt.Sprintf("http://%s/getOption?name=%s", addr, args[0]), &response); err != nil {
					return fmt.Errorf("failed to get option: %w", err)
				}
				if response.ErrorMessage != "" {
					return fmt.Errorf("failed to get option: %s", response.ErrorMessage)
				}
				fmt.Printf("%s = %v\n", args[0], response.Result)
				return nil
			}

			req := struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			}{args[0], args[1]}

			var response Response
			if err := postRequest(fmt.Sprintf("http://%s/setOption", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to set option: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to set option: %s", response.ErrorMessage)
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func startAutoConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start_auto_config [labels...]",
		Short: "generates one auto-config token per peer signer",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			req := struct {
				Labels []string `json:"labels"`
			}{args}

			var response TokensResponse
			if err := postRequest(fmt.Sprintf("http://%s/startAutoConfig", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to start auto-config: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to start auto-config: %s", response.ErrorMessage)
			}

			fmt.Println("hand each signer their token over a trusted channel:")
			for index := uint32(1); index < uint32(len(response.Result))+1; index++ {
				token, ok := response.Result[index]
				if !ok {
					continue
				}
				fmt.Printf("  signer %d: %s\n", index, cyan(token))
			}
			return nil
		},
	}
}

func stopAutoConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop_auto_config",
		Short: "discards all pending auto-config tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			var response Response
			if err := postRequest(fmt.Sprintf("http://%s/stopAutoConfig", addr), struct{}{}, &response); err != nil {
				return fmt.Errorf("failed to stop auto-config: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to stop auto-config: %s", response.ErrorMessage)
			}
			fmt.Println("auto-config stopped")
			return nil
		},
	}
}

func autoConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auto_config [token]",
		Args:  cobra.ExactArgs(1),
		Short: "joins a wallet using a token received from the manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			req := struct {
				Token string `json:"token"`
			}{args[0]}

			var response MessageResponse
			if err := postRequest(fmt.Sprintf("http://%s/autoConfig", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to auto-config: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to auto-config: %s", response.ErrorMessage)
			}
			fmt.Printf("auto-config data queued as message %d, run send to deliver it\n", response.Result.ID)
			return nil
		},
	}
}

func transferCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer [address] [amount]",
		Args:  cobra.ExactArgs(2),
		Short: "drafts a transfer and queues it for the signing chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := listenAddr(cmd)
			if err != nil {
				return err
			}
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("bad amount %q: %v", args[1], err)
			}

			req := struct {
				Destination string `json:"destination"`
				Amount      uint64 `json:"amount"`
			}{args[0], amount}

			var response MessageResponse
			if err := postRequest(fmt.Sprintf("http://%s/proposeTransfer", addr), &req, &response); err != nil {
				return fmt.Errorf("failed to propose transfer: %w", err)
			}
			if response.ErrorMessage != "" {
				return fmt.Errorf("failed to propose transfer: %s", response.ErrorMessage)
			}
			fmt.Printf("transfer queued as message %d\n", response.Result.ID)
			return nil
		},
	}
}
