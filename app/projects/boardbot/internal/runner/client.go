package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_client"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
)

const (
	EventEnd   = "end"
	EventError = "error"

	defaultRunPath = "/api/v1/run"
	maxSSELine     = 4 << 20
)

// Event is one server-sent event of a streaming run.
type Event struct {
	Type string         `json:"event"`
	Data map[string]any `json:"data"`
}

func (e Event) Terminal() bool { return e.Type == EventEnd || e.Type == EventError }

// FlowCall is one invocation of a flow graph.
type FlowCall struct {
	Bot    *model.Bot
	Flow   json.RawMessage
	Inputs map[string]any
}

// FlowClient executes flow graphs on the flow platform.
type FlowClient interface {
	Run(ctx context.Context, call FlowCall) (map[string]any, error)
	// Stream calls emit for every event until a terminal event, an error, or ctx is done.
	Stream(ctx context.Context, call FlowCall, emit func(Event) error) error
}

// HTTPFlowClient posts flows over one http_clients entry. Every attempt gets its own timeout and
// failed attempts are retried with exponential back-off until the trial budget is spent.
type HTTPFlowClient struct {
	client  *http_client.InstrumentedClient
	timeout time.Duration
	trials  int
	base    time.Duration
	max     time.Duration
}

func NewHTTPFlowClient(c *http_client.InstrumentedClient, cfg bizConfig.BotConfig) *HTTPFlowClient {
	trials := cfg.AIRequestTrials
	if trials <= 0 {
		trials = 1
	}
	return &HTTPFlowClient{
		client:  c,
		timeout: cfg.RequestTimeout(),
		trials:  trials,
		base:    500 * time.Millisecond,
		max:     30 * time.Second,
	}
}

// FlowError is a failure reported by the flow platform itself.
type FlowError struct {
	Message string
}

func (e *FlowError) Error() string { return "flow failed: " + e.Message }

func (c *HTTPFlowClient) Run(ctx context.Context, call FlowCall) (map[string]any, error) {
	path, headers, body, err := c.request(call, false)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	err = c.retry(ctx, func(actx context.Context) error {
		resp, err := c.client.Open(actx, http.MethodPost, path, nil, headers, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		out = nil
		if err := codec.Unmarshal(raw, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode flow result: %w", err))
		}
		return nil
	}, func() bool { return false })
	return out, err
}

func (c *HTTPFlowClient) Stream(ctx context.Context, call FlowCall, emit func(Event) error) error {
	path, headers, body, err := c.request(call, true)
	if err != nil {
		return err
	}
	headers["Accept"] = "text/event-stream"
	emitted := false
	return c.retry(ctx, func(actx context.Context) error {
		resp, err := c.client.Open(actx, http.MethodPost, path, nil, headers, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return readSSE(resp.Body, func(ev Event) error {
			emitted = true
			return emit(ev)
		})
	}, func() bool { return emitted })
}

func (c *HTTPFlowClient) request(call FlowCall, stream bool) (string, map[string]string, []byte, error) {
	body, err := codec.Marshal(map[string]any{
		"flow":   call.Flow,
		"inputs": call.Inputs,
		"stream": stream,
	})
	if err != nil {
		return "", nil, nil, err
	}
	headers := map[string]string{"Content-Type": "application/json"}
	path := defaultRunPath
	if call.Bot != nil {
		if call.Bot.APIURL != "" {
			path = call.Bot.APIURL
		}
		if call.Bot.APIKey != "" {
			headers["Authorization"] = "Bearer " + call.Bot.APIKey
		}
	}
	return path, headers, body, nil
}

// retry runs attempt until it succeeds, fails permanently or the trials run out. Once stop reports
// true (output already reached the caller) the next failure is final.
func (c *HTTPFlowClient) retry(ctx context.Context, attempt func(context.Context) error, stop func() bool) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.base
	b.MaxInterval = c.max
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		err := attempt(actx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case stop() || !retryable(err):
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.trials)))
	return err
}

func retryable(err error) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return false
	}
	var se *http_client.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// readSSE parses a text/event-stream body. It returns nil after an end event, a *FlowError after
// an error event, and an error when the stream closes before either.
func readSSE(r io.Reader, emit func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxSSELine)
	var (
		typ  string
		data []string
	)
	flush := func() (bool, error) {
		if typ == "" && len(data) == 0 {
			return false, nil
		}
		ev := Event{Type: typ, Data: decodeEventData(strings.Join(data, "\n"))}
		if ev.Type == "" {
			ev.Type = "message"
		}
		typ, data = "", nil
		if err := emit(ev); err != nil {
			return true, err
		}
		switch ev.Type {
		case EventEnd:
			return true, nil
		case EventError:
			msg, _ := ev.Data["message"].(string)
			if msg == "" {
				msg = "flow reported an error"
			}
			return true, &FlowError{Message: msg}
		}
		return false, nil
	}
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if done, err := flush(); done || err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			typ = value
		case "data":
			data = append(data, value)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if done, err := flush(); done || err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func decodeEventData(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := codec.Unmarshal([]byte(s), &m); err == nil && m != nil {
		return m
	}
	return map[string]any{"text": s}
}
