package adapters

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/firebase/genkit/go/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

// IntentEnvelope carries the raw analyzer model output. Parsing happens in
// the adapter so a malformed reply can be distinguished from a dead backend
// and repaired with a second prompt.
type IntentEnvelope struct {
	Raw string `json:"raw"`
}

// GenkitAnalyzerAdapter uses a Genkit Flow to implement the Analyzer
// interface. Identical requests against an unchanged tool set reuse the
// cached analysis.
type GenkitAnalyzerAdapter struct {
	analyzerFlow *core.Flow[*agenticrag.AnalyzerInput, *IntentEnvelope, struct{}]
	cache        agenticrag.Cache
	log          zerolog.Logger
}

// NewGenkitAnalyzerAdapter creates a new adapter for the analyzer flow.
// cache may be nil to disable analysis caching.
func NewGenkitAnalyzerAdapter(analyzerFlow *core.Flow[*agenticrag.AnalyzerInput, *IntentEnvelope, struct{}], cache agenticrag.Cache, log zerolog.Logger) *GenkitAnalyzerAdapter {
	return &GenkitAnalyzerAdapter{
		analyzerFlow: analyzerFlow,
		cache:        cache,
		log:          log,
	}
}

// Analyze implements the agenticrag.Analyzer interface. A malformed model
// reply gets exactly one repair re-prompt; if that also fails to parse, the
// request degrades to a conversational reply (no intents) instead of
// failing. A flow error means the backend itself is unreachable and aborts
// the request.
func (a *GenkitAnalyzerAdapter) Analyze(ctx context.Context, input agenticrag.AnalyzerInput) ([]agenticrag.Intent, error) {
	cacheKey := a.generateCacheKey(input)

	if a.cache != nil {
		if cached, err := a.cache.Get(ctx, cacheKey); err == nil {
			if intents, ok := cached.([]agenticrag.Intent); ok {
				a.log.Debug().Str("cache_key", cacheKey).Msg("analysis cache hit")
				return cloneIntents(intents), nil
			}
		}
	}

	intents, parseErr := a.analyzeOnce(ctx, &input)
	if parseErr != nil {
		if agenticrag.IsBackendUnreachable(parseErr) {
			return nil, parseErr
		}
		a.log.Warn().Err(parseErr).Msg("analyzer output malformed, re-prompting once")
		repairInput := input
		repairInput.RepairHint = fmt.Sprintf(
			"The previous reply could not be used: %v. Reply with ONLY a JSON array of intents, each {\"tool\": ..., \"args\": {...}}, and no surrounding text.",
			parseErr)

		intents, parseErr = a.analyzeOnce(ctx, &repairInput)
		if parseErr != nil {
			if agenticrag.IsBackendUnreachable(parseErr) {
				return nil, parseErr
			}
			// Degrade to a conversational reply rather than failing the
			// whole request.
			a.log.Warn().Err(parseErr).Msg("repair attempt also malformed, falling back to no intents")
			return nil, nil
		}
	}

	for i := range intents {
		if intents[i].ID == "" {
			intents[i].ID = uuid.New().String()
		}
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, cacheKey, cloneIntents(intents)); err != nil {
			a.log.Debug().Err(err).Msg("failed to cache analysis")
		}
	}

	return intents, nil
}

// analyzeOnce runs the flow and parses its output. A flow error is terminal;
// a parse or schema validation error is repairable.
func (a *GenkitAnalyzerAdapter) analyzeOnce(ctx context.Context, input *agenticrag.AnalyzerInput) ([]agenticrag.Intent, error) {
	envelope, err := a.analyzerFlow.Run(ctx, input)
	if err != nil {
		return nil, agenticrag.NewBackendUnreachableError("analysis", err)
	}
	if envelope == nil {
		return nil, agenticrag.NewMalformedAnalysisError("analyzer flow returned no output", nil)
	}

	intents, parseErr := ParseIntents(envelope.Raw)
	if parseErr != nil {
		return nil, parseErr
	}
	if err := ValidateIntents(intents, input.ToolSchema); err != nil {
		return nil, err
	}
	return intents, nil
}

// ParseIntents extracts an intent list from raw model output. Accepted
// shapes, in order: a JSON array of intents, an object with an "intents"
// array, or a single intent object. Code fences around the JSON are
// stripped first.
func ParseIntents(raw string) ([]agenticrag.Intent, error) {
	trimmed := stripCodeFences(raw)
	if trimmed == "" {
		return nil, agenticrag.NewMalformedAnalysisError("analyzer returned empty output", nil)
	}

	var intents []agenticrag.Intent
	if err := json.Unmarshal([]byte(trimmed), &intents); err == nil {
		return validIntentList(intents)
	}

	var envelope struct {
		Intents []agenticrag.Intent `json:"intents"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil && envelope.Intents != nil {
		return validIntentList(envelope.Intents)
	}

	var single agenticrag.Intent
	if err := json.Unmarshal([]byte(trimmed), &single); err == nil && single.Tool != "" {
		return []agenticrag.Intent{single}, nil
	}

	return nil, agenticrag.NewMalformedAnalysisError("analyzer output is not a recognizable intent list", nil)
}

func validIntentList(intents []agenticrag.Intent) ([]agenticrag.Intent, error) {
	for _, intent := range intents {
		if intent.Tool == "" {
			return nil, agenticrag.NewMalformedAnalysisError("intent is missing a tool name", nil)
		}
	}
	return intents, nil
}

// ValidateIntents rejects intents that name tools outside the given schema
// set. The analyzer only ever sees enabled tools, so an unknown name is a
// hallucination worth a repair prompt.
func ValidateIntents(intents []agenticrag.Intent, schemas map[string]map[string]interface{}) error {
	for _, intent := range intents {
		if _, known := schemas[intent.Tool]; !known {
			return agenticrag.NewMalformedAnalysisError(
				fmt.Sprintf("intent names unknown tool '%s'", intent.Tool), nil)
		}
	}
	return nil
}

// stripCodeFences removes a surrounding markdown code fence, if present.
func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func cloneIntents(intents []agenticrag.Intent) []agenticrag.Intent {
	cloned := make([]agenticrag.Intent, len(intents))
	copy(cloned, intents)
	return cloned
}

// generateCacheKey creates a stable key from the query and the enabled tool
// names. Tool set changes invalidate cached analyses naturally.
func (a *GenkitAnalyzerAdapter) generateCacheKey(input agenticrag.AnalyzerInput) string {
	names := make([]string, 0, len(input.ToolSchema))
	for name := range input.ToolSchema {
		names = append(names, name)
	}
	sort.Strings(names)

	cacheableInput := struct {
		Query string   `json:"query"`
		Tools []string `json:"tools"`
	}{
		Query: input.Query,
		Tools: names,
	}

	inputBytes, err := json.Marshal(cacheableInput)
	if err != nil {
		return "analyzer:" + input.Query
	}

	hasher := sha1.New()
	hasher.Write(inputBytes)
	return "analyzer:" + hex.EncodeToString(hasher.Sum(nil))
}
