package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var client = http.Client{Timeout: 30 * time.Second}

func headCmd(log *zap.SugaredLogger) *cobra.Command {
	var url string

	cmd := cobra.Command{
		Use:   "head",
		Short: "Print the head of a running node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var head json.RawMessage
			if err := send(log, http.MethodGet, url+"/v1/chain/head", nil, &head); err != nil {
				return err
			}

			return printJSON(cmd, head)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")

	return &cmd
}

func submitCmd(log *zap.SugaredLogger) *cobra.Command {
	var url string

	cmd := cobra.Command{
		Use:   "submit <0xblock>",
		Short: "Hand a block in wire form to a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := struct {
				Block string `json:"block"`
			}{
				Block: args[0],
			}

			var result json.RawMessage
			if err := send(log, http.MethodPost, url+"/v1/chain/blocks", req, &result); err != nil {
				return err
			}

			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")

	return &cmd
}

func submitTxCmd(log *zap.SugaredLogger) *cobra.Command {
	var url string

	cmd := cobra.Command{
		Use:   "submit-tx <0xtx>",
		Short: "Hand a transaction in wire form to the mempool of a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := struct {
				Tx string `json:"tx"`
			}{
				Tx: args[0],
			}

			var accepted json.RawMessage
			if err := send(log, http.MethodPost, url+"/v1/tx/submit", req, &accepted); err != nil {
				return err
			}

			return printJSON(cmd, accepted)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")

	return &cmd
}

// send performs the call and decodes the response into v. Responses other
// than 200 are returned as errors carrying the node's message.
func send(log *zap.SugaredLogger, method string, url string, body any, v any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	log.Infow("request", "method", method, "url", url)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Infow("response", "method", method, "url", url, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		var er struct {
			Error string `json:"error"`
			Rule  string `json:"rule"`
		}
		json.NewDecoder(resp.Body).Decode(&er)
		return fmt.Errorf("node responded %d: %s", resp.StatusCode, er.Error)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
