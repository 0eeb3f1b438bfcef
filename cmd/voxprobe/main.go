// Command voxprobe replays synthetic assistant turns against a running
// webhook server and reports per-turn latency. It drives a full
// conversation: an invocation turn, N text turns that carry the
// conversation token forward, and a closing turn.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type options struct {
	baseURL        string
	schema         string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultUtterances = []string{
	"what is the weather like",
	"repeat that please",
	"tell me something new",
	"how long will this take",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "webhook server base URL")
	flag.StringVar(&cfg.schema, "schema", "actions", "request schema: actions or dialogflow")
	flag.IntVar(&cfg.turns, "turns", 10, "number of text turns between invocation and close")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 5000, "per-request timeout in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.schema != "actions" && cfg.schema != "dialogflow" {
		return options{}, fmt.Errorf("schema must be actions or dialogflow")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 100 {
		turnTimeoutMS = 100
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	client := resty.New().
		SetBaseURL(cfg.baseURL).
		SetTimeout(cfg.turnTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Google-Actions-API-Version", "2")

	conversationID := "probe-" + uuid.NewString()
	if cfg.verbose {
		fmt.Printf("voxprobe: conversation=%s schema=%s turns=%d\n", conversationID, cfg.schema, cfg.turns)
	}

	token := ""
	var latencies []time.Duration

	fire := func(label, intent, query string) error {
		body := turnBody(cfg.schema, conversationID, token, intent, query)
		start := time.Now()
		res, err := client.R().SetBody(body).Post("/webhook")
		elapsed := time.Since(start)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if res.StatusCode() != 200 {
			return fmt.Errorf("%s: HTTP %d: %s", label, res.StatusCode(), strings.TrimSpace(res.String()))
		}
		latencies = append(latencies, elapsed)

		var envelope map[string]any
		if err := json.Unmarshal(res.Body(), &envelope); err != nil {
			return fmt.Errorf("%s: decode envelope: %w", label, err)
		}
		token = nextToken(cfg.schema, envelope)
		if cfg.verbose {
			fmt.Printf("voxprobe: %s intent=%s latency=%s\n", label, intent, elapsed.Round(time.Millisecond))
		}
		return nil
	}

	if err := fire("invocation", "actions.intent.MAIN", "talk to my test app"); err != nil {
		return err
	}
	for i := 0; i < cfg.turns; i++ {
		label := fmt.Sprintf("turn %d/%d", i+1, cfg.turns)
		if err := fire(label, "actions.intent.TEXT", cfg.texts[i%len(cfg.texts)]); err != nil {
			return err
		}
		if cfg.interTurnDelay > 0 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	if err := fire("close", "actions.intent.TEXT", "goodbye"); err != nil {
		return err
	}

	printLatencies(latencies)
	return nil
}

// turnBody builds one synthetic inbound turn. Dialogflow turns wrap the raw
// Actions SDK payload in an originalRequest block, the way the NLU frontend
// does in production.
func turnBody(schema, conversationID, token, intent, query string) map[string]any {
	appRequest := map[string]any{
		"user": map[string]any{"userId": "probe-user"},
		"conversation": map[string]any{
			"conversationId":    conversationID,
			"type":              "ACTIVE",
			"conversationToken": token,
		},
		"inputs": []map[string]any{{
			"intent":    intent,
			"rawInputs": []map[string]any{{"query": query}},
		}},
	}
	if schema == "actions" {
		return appRequest
	}

	contexts := []map[string]any{}
	if token != "" {
		var params map[string]any
		if err := json.Unmarshal([]byte(token), &params); err == nil {
			contexts = append(contexts, map[string]any{
				"name":       "_voxhook_state_",
				"lifespan":   100,
				"parameters": params,
			})
		}
	}
	return map[string]any{
		"id":        uuid.NewString(),
		"sessionId": conversationID,
		"result": map[string]any{
			"action":        intent,
			"resolvedQuery": query,
			"contexts":      contexts,
		},
		"originalRequest": map[string]any{
			"version": "2",
			"data":    appRequest,
		},
	}
}

// nextToken extracts the dialog state the server wants echoed back on the
// following turn: the conversation token for raw Actions SDK turns, or the
// state context parameters re-encoded as a token for Dialogflow turns.
func nextToken(schema string, envelope map[string]any) string {
	if schema == "actions" {
		token, _ := envelope["conversationToken"].(string)
		return token
	}
	contexts, _ := envelope["contextOut"].([]any)
	for _, raw := range contexts {
		c, ok := raw.(map[string]any)
		if !ok || c["name"] != "_voxhook_state_" {
			continue
		}
		if params, ok := c["parameters"].(map[string]any); ok {
			if encoded, err := json.Marshal(params); err == nil {
				return string(encoded)
			}
		}
	}
	return ""
}

func printLatencies(latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	quantile := func(q float64) time.Duration {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	}
	fmt.Printf("voxprobe: %d turns p50=%s p95=%s max=%s\n",
		len(sorted),
		quantile(0.50).Round(time.Millisecond),
		quantile(0.95).Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond))
}
