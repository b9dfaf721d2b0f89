// Package agent implements the typed LLM agents of the build runtime:
// planner, implementer, and reviewer. Each agent pairs a system prompt with
// a JSON output schema; responses pass through a fixed JSON repair pipeline
// and schema validation before they reach the orchestrator.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/TheSmartAz/zaoya/pkg/config"
	"github.com/TheSmartAz/zaoya/pkg/llm"
	"github.com/TheSmartAz/zaoya/pkg/models"
)

// Default sampling temperatures. The implementer runs colder so patches
// stay close to the existing code.
const (
	DefaultTemperature     = 0.3
	ImplementerTemperature = 0.2
)

// parse/call retry policy: up to 3 LLM calls with 2^attempt seconds backoff
// when a response cannot be parsed into the output schema.
const parseAttempts = 3

// CallMeta carries the bookkeeping of one agent call.
type CallMeta struct {
	RawResponse string
	TokenUsage  models.TokenUsage
	Model       string
}

// BaseAgent is the shared agent machinery: prompt assembly, transport call,
// JSON extraction, and schema validation.
type BaseAgent struct {
	role         string
	systemPrompt string
	temperature  float32
	schema       *jsonschema.Schema

	transport llm.Transport
	modelCfg  *config.ModelConfig
	sleep     func(context.Context, time.Duration) error
}

// NewBaseAgent builds an agent with the given role, prompt, temperature,
// and compiled output schema. Panics on a nil schema (programming error in
// the concrete agent constructors).
func NewBaseAgent(role, systemPrompt string, temperature float32, schema *jsonschema.Schema, transport llm.Transport, modelCfg *config.ModelConfig) *BaseAgent {
	if schema == nil {
		panic("NewBaseAgent: schema must not be nil")
	}
	return &BaseAgent{
		role:         role,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		schema:       schema,
		transport:    transport,
		modelCfg:     modelCfg,
		sleep:        sleepCtx,
	}
}

// call sends the user message and decodes the schema-validated JSON output
// into out. Parse and validation failures trigger a fresh LLM call, up to
// parseAttempts total.
func (a *BaseAgent) call(ctx context.Context, userMessage string, out any) (*CallMeta, error) {
	model := a.modelCfg.Resolve(a.role)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.systemPrompt},
		{Role: llm.RoleUser, Content: userMessage},
	}

	meta := &CallMeta{}
	var lastErr error
	for attempt := 1; attempt <= parseAttempts; attempt++ {
		resp, err := a.transport.ChatComplete(ctx, model, messages, a.temperature)
		if err != nil {
			return meta, fmt.Errorf("%s agent transport: %w", a.role, err)
		}
		meta.RawResponse = resp.Content
		meta.Model = resp.Model
		meta.TokenUsage.Add(models.TokenUsage{
			Prompt:     resp.Usage.Prompt,
			Completion: resp.Usage.Completion,
			Total:      resp.Usage.Total,
		})

		raw, err := ExtractJSON(resp.Content)
		if err == nil {
			err = a.validate(raw)
		}
		if err == nil {
			err = decodeStrictish(raw, out)
		}
		if err == nil {
			return meta, nil
		}

		lastErr = err
		if attempt < parseAttempts {
			delay := time.Duration(1<<attempt) * time.Second
			slog.Warn("Agent output parse failed, retrying",
				"agent", a.role, "attempt", attempt, "delay", delay, "error", err)
			if serr := a.sleep(ctx, delay); serr != nil {
				return meta, serr
			}
		}
	}
	return meta, fmt.Errorf("%s agent output invalid after %d attempts: %w", a.role, parseAttempts, lastErr)
}

// validate checks raw JSON against the agent's output schema.
func (a *BaseAgent) validate(raw json.RawMessage) error {
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decoding output for schema validation: %w", err)
	}
	if err := a.schema.Validate(value); err != nil {
		return fmt.Errorf("output schema validation: %w", err)
	}
	return nil
}

func decodeStrictish(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding agent output: %w", err)
	}
	return nil
}

// compileSchema compiles an embedded schema document. Panics on failure:
// the schemas are compile-time constants.
func compileSchema(name, doc string) *jsonschema.Schema {
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, value); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return schema
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// section renders one labelled block of a user message.
func section(sb *strings.Builder, label, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	sb.WriteString("## ")
	sb.WriteString(label)
	sb.WriteString("\n")
	sb.WriteString(content)
	sb.WriteString("\n\n")
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
