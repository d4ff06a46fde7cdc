package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bufbuild/connect-go"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	pipeline "github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/rpc"
	agentrpc "github.com/masbolt/masbolt/internal/rpc/agent"
	"github.com/masbolt/masbolt/internal/rpc/connectjson"
)

// NewRunCmd wires the run command to stream pipeline events from the daemon.
func NewRunCmd(opts *Options) *cobra.Command {
	var addr string
	var transport string

	cmd := &cobra.Command{
		Use:   "run \"<request>\"",
		Short: "Send a change request to the daemon and stream pipeline progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			userRequest := args[0]
			if strings.TrimSpace(userRequest) == "" {
				return fmt.Errorf("request cannot be empty")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			reqBody := rpc.RunFlowRequest{
				UserRequest:   userRequest,
				CorrelationID: fmt.Sprintf("cli-%d", time.Now().UnixNano()),
			}

			if addr == "" {
				addr = cfg.Server.Addr
			}
			if transport == "" {
				transport = cfg.Server.Transport
			}

			baseURL := daemonURL(addr)
			switch strings.ToLower(strings.TrimSpace(transport)) {
			case "ndjson":
				return runNDJSON(ctx, cmd, baseURL+"/agent/run", reqBody)
			default:
				return runConnect(ctx, cmd, baseURL+agentrpc.ConnectRunFlowProcedure, reqBody)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: server.addr from config)")
	cmd.Flags().StringVar(&transport, "transport", "", "connect or ndjson (default: server.transport from config)")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runNDJSON(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.RunFlowRequest) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var failed error
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var evt rpc.RunFlowEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := renderEvent(cmd.OutOrStdout(), evt); err != nil {
			failed = err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return failed
}

func runConnect(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.RunFlowRequest) error {
	client := connect.NewClient[rpc.RunFlowStreamRequest, rpc.RunFlowEvent](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&rpc.RunFlowStreamRequest{Run: &reqBody}); err != nil {
		return err
	}

	// stop streaming when the command is interrupted; the daemon finishes the run.
	go func() {
		<-ctx.Done()
		_ = stream.Send(&rpc.RunFlowStreamRequest{Cancel: true, CorrelationID: reqBody.CorrelationID})
		_ = stream.CloseRequest()
	}()

	var failed error
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := renderEvent(cmd.OutOrStdout(), *evt); err != nil {
			failed = err
		}
	}
	_ = stream.CloseRequest()
	if err := stream.CloseResponse(); err != nil {
		return err
	}
	return failed
}

func renderEvent(out io.Writer, evt rpc.RunFlowEvent) error {
	switch evt.Type {
	case rpc.EventActivity:
		if evt.Activity == nil {
			return nil
		}
		a := evt.Activity
		switch a.Kind {
		case pipeline.ActivityFileWritten:
			fmt.Fprintf(out, "[write] %s\n", a.Path)
		case pipeline.ActivityStageFailed:
			fmt.Fprintf(out, "[%s failed] %s\n", a.Stage, a.Message)
		case pipeline.ActivityDone:
		default:
			fmt.Fprintf(out, "[%s] %s\n", a.Stage, strings.ReplaceAll(string(a.Kind), "_", " "))
		}
	case rpc.EventResult:
		if evt.Result == nil {
			return nil
		}
		renderResult(out, *evt.Result)
	case rpc.EventDone:
		fmt.Fprintln(out, "[done]")
	case rpc.EventError:
		return fmt.Errorf("pipeline error: %s", evt.Error)
	}
	return nil
}

func renderResult(out io.Writer, res pipeline.Result) {
	section := func(title string, body *string) {
		if body != nil {
			fmt.Fprintf(out, "\n== %s ==\n%s\n", title, *body)
		}
	}
	section("plan", res.Plan)
	section("code changes", res.CodeChanges)
	section("test results", res.TestResults)

	fmt.Fprintf(out, "\nrun %s: %s\n", res.ID, res.Status)
	if res.Status == pipeline.StatusPartial && res.Error != "" {
		fmt.Fprintln(out, res.Error)
	}
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
