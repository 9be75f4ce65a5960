package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"researchdesk/internal/store"
	"researchdesk/provider"
)

// Result is the terminal outcome of executing one agent run. Output carries
// the LLM verdict on success and the raw endpoint body when the pipeline
// failed after the endpoint responded, so nothing fetched is ever discarded.
type Result struct {
	Success bool
	Output  *string
	Error   *string
}

// Executor performs the fetch-then-summarize pipeline for a single run:
// template rendering, auth, the HTTP call, optional HTML reduction, and the
// LLM post-processing step.
type Executor struct {
	log          *log.Logger
	client       *http.Client
	llm          provider.Completer
	cipher       Decrypter
	defaultModel string
	reduceHTML   bool
}

func NewExecutor(logger *log.Logger, llm provider.Completer, cipher Decrypter, httpTimeout time.Duration, defaultModel string, reduceHTML bool) *Executor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	return &Executor{
		log:          logger,
		client:       &http.Client{Timeout: httpTimeout},
		llm:          llm,
		cipher:       cipher,
		defaultModel: defaultModel,
		reduceHTML:   reduceHTML,
	}
}

// Execute never returns an error: every failure mode is folded into the
// Result so a run always reaches a terminal state.
func (e *Executor) Execute(ctx context.Context, agent store.AgentConfig, subj store.Subject) Result {
	var xlog strings.Builder

	endpoint := renderTemplate(agent.EndpointURL, subj)
	instructions := augmentInstructions(agent.Instructions, subj)
	fmt.Fprintf(&xlog, "Calling %s %s\n", e.method(agent), endpoint)

	req, err := e.buildRequest(ctx, agent, endpoint, subj)
	if err != nil {
		return fail(&xlog, err)
	}

	strategy, err := resolveAuth(agent, e.cipher, e.client)
	if err != nil {
		return fail(&xlog, fmt.Errorf("auth configuration: %w", err))
	}
	if err := strategy.apply(ctx, req); err != nil {
		return fail(&xlog, fmt.Errorf("auth: %w", err))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fail(&xlog, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(&xlog, fmt.Errorf("read response body: %w", err))
	}
	body := string(raw)
	fmt.Fprintf(&xlog, "Response status %d, %d bytes\n", resp.StatusCode, len(raw))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fmt.Fprintf(&xlog, "endpoint returned non-success status %d\n", resp.StatusCode)
		msg := xlog.String()
		return Result{Success: false, Output: &body, Error: &msg}
	}

	content := body
	if e.reduceHTML && looksLikeHTML(resp.Header.Get("Content-Type"), body) {
		if reduced, ok := e.reduce(endpoint, body); ok {
			fmt.Fprintf(&xlog, "Reduced HTML body from %d to %d bytes\n", len(body), len(reduced))
			content = reduced
		}
	}

	model := agent.Model
	if model == "" {
		model = e.defaultModel
	}
	verdict, err := e.llm.Complete(ctx, model, instructions, content)
	if err != nil {
		fmt.Fprintf(&xlog, "llm call failed: %v\n", err)
		msg := xlog.String()
		// Keep the fetched body so the raw material survives the failure.
		return Result{Success: false, Output: &body, Error: &msg}
	}

	return Result{Success: true, Output: &verdict}
}

func (e *Executor) method(agent store.AgentConfig) string {
	if agent.HTTPMethod == "" {
		return http.MethodGet
	}
	return strings.ToUpper(agent.HTTPMethod)
}

func (e *Executor) buildRequest(ctx context.Context, agent store.AgentConfig, endpoint string, subj store.Subject) (*http.Request, error) {
	method := e.method(agent)
	var body io.Reader
	hasBody := agent.RequestBodyTemplate != "" && method != http.MethodGet && method != http.MethodHead
	if hasBody {
		body = strings.NewReader(renderTemplate(agent.RequestBodyTemplate, subj))
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/html, text/plain, */*")
	return req, nil
}

func (e *Executor) reduce(endpoint, body string) (string, bool) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false
	}
	article, err := readability.FromReader(strings.NewReader(body), u)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		return "", false
	}
	return article.TextContent, true
}

func looksLikeHTML(contentType, body string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(body))
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html")
}

func fail(xlog *strings.Builder, err error) Result {
	fmt.Fprintf(xlog, "%v\n", err)
	msg := xlog.String()
	return Result{Success: false, Error: &msg}
}
