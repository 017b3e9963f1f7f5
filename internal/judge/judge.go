package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/shopspring/decimal"

	"github.com/scarablabs/scarab/internal/models"
)

const (
	maxTitleChars  = 200
	maxBodyChars   = 1000
	maxReasonChars = 200
)

// fallbackReason is used whenever the reasoning service cannot produce a
// usable verdict. Judgment failures always resolve to a safe rejection
// rather than leaving a submission stuck.
const fallbackReason = "failed to evaluate bug report"

// overridePhrases are redacted from report bodies before they reach the
// prompt. This is a best-effort injection mitigation, not a security
// boundary: novel phrasings will get through.
var overridePhrases = regexp.MustCompile(`(?i)ignore previous|forget|system:|you are now|disregard`)

// Result is the judge's decision on a submission.
type Result struct {
	Verdict      models.Verdict
	Severity     models.Severity
	Reason       string
	BountyAmount decimal.Decimal
}

// BountyTable maps severity tiers to payout amounts.
type BountyTable struct {
	Low    decimal.Decimal
	Medium decimal.Decimal
	High   decimal.Decimal
}

// AmountFor returns the amount for a severity. Unknown severities map to
// zero, never to a non-zero default.
func (t BountyTable) AmountFor(sev models.Severity) decimal.Decimal {
	switch sev {
	case models.SeverityLow:
		return t.Low
	case models.SeverityMedium:
		return t.Medium
	case models.SeverityHigh:
		return t.High
	}
	return decimal.Zero
}

// Judge is the reasoning-service boundary consumed by the pipeline.
type Judge interface {
	Judge(ctx context.Context, title, body, codeSample string) Result
}

// Client wraps the Anthropic API as a bug-bounty judge.
type Client struct {
	api      *anthropic.Client
	model    anthropic.Model
	bounties BountyTable
}

// NewClient creates a judge client with the given API key, model, and
// severity-to-amount table.
func NewClient(apiKey, model string, bounties BountyTable) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:      &client,
		model:    anthropic.Model(model),
		bounties: bounties,
	}
}

// sanitizeTitle truncates the title and strips characters that could break
// out of the prompt's report block.
func sanitizeTitle(title string) string {
	if len(title) > maxTitleChars {
		title = title[:maxTitleChars]
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '`', '<', '>':
			return -1
		}
		return r
	}, title)
}

// sanitizeBody truncates the body and redacts known instruction-override
// phrases.
func sanitizeBody(body string) string {
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return overridePhrases.ReplaceAllString(body, "[redacted]")
}

// buildPrompt constructs the system and user prompts for judging a report.
func buildPrompt(title, body, codeSample string) (system string, user string) {
	system = `You are a strict bug bounty judge with access to the actual source code.

Your job: verify if the bug report describes a REAL bug that EXISTS in the codebase.

REJECT if:
- The bug cannot be verified in the provided code
- Steps to reproduce are missing or vague
- It is a feature request not a bug
- The code clearly handles the reported case correctly

APPROVE if:
- The bug is verifiable in the source code
- Clear steps to reproduce are provided
- Expected vs actual behavior is described

SEVERITY:
- high: security vulnerabilities, data loss, crashes
- medium: broken functionality, wrong behavior
- low: minor bugs, UI issues, typos

YOUR RESPONSE MUST BE EXACTLY ONE LINE OF JSON. NO prose. NO explanation. NO markdown. NO code blocks.
OUTPUT FORMAT (copy exactly): {"verdict":"valid","severity":"medium","reason":"max 100 chars"}
verdict must be: valid OR invalid
severity must be: low OR medium OR high (only if valid)`

	if codeSample == "" {
		codeSample = "(no code available)"
	}

	var sb strings.Builder
	sb.WriteString("=== BUG REPORT ===\n")
	sb.WriteString("Title: ")
	sb.WriteString(sanitizeTitle(title))
	sb.WriteString("\nBody: ")
	sb.WriteString(sanitizeBody(body))
	sb.WriteString("\n\n=== SOURCE CODE ===\n")
	sb.WriteString(codeSample)
	user = sb.String()
	return
}

// rawVerdict is the JSON shape the judge is instructed to emit.
type rawVerdict struct {
	Verdict  string `json:"verdict"`
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
}

// parseVerdict extracts and validates the first JSON object in the raw
// response text, tolerating surrounding prose.
func parseVerdict(raw string) (models.Verdict, models.Severity, string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", "", "", fmt.Errorf("no JSON object in response")
	}

	var parsed rawVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return "", "", "", fmt.Errorf("parse verdict JSON: %w", err)
	}

	verdict := models.Verdict(parsed.Verdict)
	if verdict != models.VerdictValid && verdict != models.VerdictInvalid {
		return "", "", "", fmt.Errorf("invalid verdict %q", parsed.Verdict)
	}

	severity := models.Severity(parsed.Severity)
	if verdict == models.VerdictValid {
		switch severity {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		default:
			return "", "", "", fmt.Errorf("invalid severity %q for valid verdict", parsed.Severity)
		}
	} else {
		severity = ""
	}

	reason := parsed.Reason
	if len(reason) > maxReasonChars {
		reason = reason[:maxReasonChars]
	}
	return verdict, severity, reason, nil
}

// Judge evaluates a report against the code sample. It never fails: any
// error from the reasoning service resolves to an invalid verdict with a
// generic reason.
func (c *Client) Judge(ctx context.Context, title, body, codeSample string) Result {
	verdict, severity, reason, err := c.evaluate(ctx, title, body, codeSample)
	if err != nil {
		slog.Warn("judgment failed, falling back to invalid", "error", err)
		return Result{
			Verdict:      models.VerdictInvalid,
			Reason:       fallbackReason,
			BountyAmount: decimal.Zero,
		}
	}

	result := Result{Verdict: verdict, Severity: severity, Reason: reason, BountyAmount: decimal.Zero}
	if verdict == models.VerdictValid {
		result.BountyAmount = c.bounties.AmountFor(severity)
	}
	return result
}

func (c *Client) evaluate(ctx context.Context, title, body, codeSample string) (models.Verdict, models.Severity, string, error) {
	systemPrompt, userPrompt := buildPrompt(title, body, codeSample)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", "", "", fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", "", "", fmt.Errorf("no text content in API response")
	}

	return parseVerdict(text)
}
