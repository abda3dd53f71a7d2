package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

const defaultEndpoint = "http://127.0.0.1:7345/"

func usage() {
	fmt.Fprintf(os.Stderr, `custodia-cli — JSON-RPC client for the custodia escrow ledger

Usage:
  custodia-cli [-rpc URL] <command> [args]

Commands:
  create <caller> <counterparty> <arbitrator> <amount>   open an escrow
  complete <id> <caller>                                 release to counterparty
  dispute <id> <caller>                                  raise a dispute
  arbitrate <id> <caller> <counterparty|initiator>       settle a dispute
  get <id>                                               fetch an escrow
  balance <id>                                           fetch held balance
  custodial                                              aggregate held balance
  reputation <address>                                   participant reputation
  arbitrator <address>                                   arbitrator reputation
  bootstrap <address>                                    seed an arbitrator record

Mutating commands send the bearer token from CUSTODIA_RPC_TOKEN.
`)
	os.Exit(2)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data,omitempty"`
	} `json:"error"`
}

func call(endpoint, method string, params interface{}) error {
	reqParams := []interface{}{}
	if params != nil {
		reqParams = append(reqParams, params)
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: reqParams, ID: 1})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(os.Getenv("CUSTODIA_RPC_TOKEN")); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s (%v)", decoded.Error.Code, decoded.Error.Message, decoded.Error.Data)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, decoded.Result, "", "  "); err != nil {
		fmt.Println(string(decoded.Result))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid escrow id %q", raw)
	}
	return id, nil
}

func main() {
	endpoint := flag.String("rpc", defaultEndpoint, "JSON-RPC endpoint")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	var err error
	switch args[0] {
	case "create":
		if len(args) != 5 {
			usage()
		}
		err = call(*endpoint, "escrow_create", map[string]string{
			"caller":       args[1],
			"counterparty": args[2],
			"arbitrator":   args[3],
			"amount":       args[4],
		})
	case "complete", "dispute":
		if len(args) != 3 {
			usage()
		}
		var id uint64
		if id, err = parseID(args[1]); err == nil {
			err = call(*endpoint, "escrow_"+args[0], map[string]interface{}{"id": id, "caller": args[2]})
		}
	case "arbitrate":
		if len(args) != 4 {
			usage()
		}
		release := false
		switch args[3] {
		case "counterparty":
			release = true
		case "initiator":
		default:
			usage()
		}
		var id uint64
		if id, err = parseID(args[1]); err == nil {
			err = call(*endpoint, "escrow_arbitrate", map[string]interface{}{
				"id": id, "caller": args[2], "releaseToCounterparty": release,
			})
		}
	case "get", "balance":
		if len(args) != 2 {
			usage()
		}
		method := map[string]string{"get": "escrow_get", "balance": "escrow_getBalance"}[args[0]]
		var id uint64
		if id, err = parseID(args[1]); err == nil {
			err = call(*endpoint, method, map[string]uint64{"id": id})
		}
	case "custodial":
		err = call(*endpoint, "escrow_custodialBalance", nil)
	case "reputation":
		if len(args) != 2 {
			usage()
		}
		err = call(*endpoint, "reputation_getParticipant", map[string]string{"address": args[1]})
	case "arbitrator":
		if len(args) != 2 {
			usage()
		}
		err = call(*endpoint, "reputation_getArbitrator", map[string]string{"address": args[1]})
	case "bootstrap":
		if len(args) != 2 {
			usage()
		}
		err = call(*endpoint, "reputation_bootstrapArbitrator", map[string]string{"address": args[1]})
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
