package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/labelworks/parser-cli/internal/config"
	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/resilience"
	"github.com/labelworks/parser-cli/internal/vocab"
	"github.com/labelworks/parser-cli/pkg/anthropic"
)

// ErrExtraction marks a fragment whose extraction failed after the retry
// budget was exhausted. The fragment contributes zero items; the failure is
// reported as a record-level note, never a crash.
var ErrExtraction = eris.New("pipeline: extraction failed")

const extractSystemText = "You are a careful data parser for consumer packaged goods labels. Return only valid JSON, with no commentary."

const ingredientPrompt = `Parse the following label text for product %s from the packaging of a consumer packaged good.
List only genuine ingredients. Exclude boilerplate tokens such as "ingredients:", "other ingredients", "active ingredients" headings, and totals.
For each ingredient extract the name, the unit, and the amount, and whether it is active or inactive.
If active or inactive is not declared, assume active. If no unit is present use "n/a". If no amount is present use 0.
The text may indicate a serving concept like "In Each Tablet" or "per spray" - report it as servingIndicator.
Report anything that seemed odd, if anything, in a notes field.

Return results as JSON:
{"%s": {"ingredients": [{"name": "...", "unit": "n/a", "amount": 0, "type": "active", "source": "%s"}]}, "notes": "", "servingIndicator": ""}

Here is the label text:
%s`

const claimPrompt = `Parse the following label text for product %s from the packaging of a consumer packaged good.
List only genuine marketing claims (for example "Gluten Free", "Certified Organic", "No Added Sugar"). Exclude headings, ingredient names, and boilerplate.
For each claim extract the name. Use "n/a" for unit and 0 for amount unless the claim itself states a quantity. Claims are always active.
Report anything that seemed odd, if anything, in a notes field.

Return results as JSON:
{"%s": {"claims": [{"name": "...", "unit": "n/a", "amount": 0, "type": "active", "source": "%s"}]}, "notes": "", "servingIndicator": ""}

Here is the label text:
%s`

const correctivePrompt = `Your previous reply could not be parsed as the requested JSON object. Reply again with only the JSON object described earlier, and nothing else.`

// wireItem mirrors one element of the capability's "ingredients"/"claims"
// array. Amount arrives as a number or a string depending on the model's
// mood, so it is coerced after decoding.
type wireItem struct {
	Name   string `json:"name"`
	Unit   string `json:"unit"`
	Amount any    `json:"amount"`
	Type   string `json:"type"`
	Source string `json:"source"`
	Note   string `json:"note"`
}

type wirePayload struct {
	Ingredients []wireItem `json:"ingredients"`
	Claims      []wireItem `json:"claims"`
}

// Extract turns one raw fragment into candidate items via the extraction
// capability. Empty fragment text short-circuits to no items and no call.
// Transport failures are retried with exponential backoff; a malformed
// response gets one corrective follow-up before the fragment fails with
// ErrExtraction. The second return value carries record-level notes
// (capability notes, malformed-response warnings).
func Extract(ctx context.Context, frag model.RawFragment, d Domain, client anthropic.Client, aiCfg config.AnthropicConfig, retry resilience.RetryConfig) ([]model.ExtractedItem, []string, error) {
	if strings.TrimSpace(frag.Text) == "" {
		return nil, nil, nil
	}

	prompt := buildPrompt(frag, d)
	temperature := 0.0 // determinism over creativity

	req := anthropic.MessageRequest{
		Model:       aiCfg.Model,
		MaxTokens:   aiCfg.MaxTokens,
		System:      extractSystemText,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	}

	resp, err := callCapability(ctx, client, req, aiCfg, retry)
	if err != nil {
		return nil, nil, eris.Wrap(ErrExtraction, err.Error())
	}

	items, notes, parseErr := parseExtraction(resp.Text(), frag, d)
	if parseErr == nil {
		return items, notes, nil
	}

	zap.L().Warn("extract: malformed capability response, sending corrective follow-up",
		zap.String("product", frag.ProductID),
		zap.String("source", string(frag.SourceKind)),
		zap.Error(parseErr),
	)

	// One corrective follow-up: replay the exchange and ask for clean JSON.
	req.Messages = append(req.Messages,
		anthropic.Message{Role: "assistant", Content: resp.Text()},
		anthropic.Message{Role: "user", Content: correctivePrompt},
	)
	resp, err = callCapability(ctx, client, req, aiCfg, retry)
	if err != nil {
		return nil, nil, eris.Wrap(ErrExtraction, err.Error())
	}

	items, notes, parseErr = parseExtraction(resp.Text(), frag, d)
	if parseErr != nil {
		return nil, nil, eris.Wrap(ErrExtraction, parseErr.Error())
	}
	notes = append(notes, fmt.Sprintf("%s: capability response required a corrective re-prompt", frag.SourceKind))
	return items, notes, nil
}

func buildPrompt(frag model.RawFragment, d Domain) string {
	tmpl := ingredientPrompt
	if d == DomainClaims {
		tmpl = claimPrompt
	}
	return fmt.Sprintf(tmpl, frag.ProductID, frag.ProductID, frag.SourceKind, frag.Text)
}

func callCapability(ctx context.Context, client anthropic.Client, req anthropic.MessageRequest, aiCfg config.AnthropicConfig, retry resilience.RetryConfig) (*anthropic.MessageResponse, error) {
	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		callCtx := ctx
		if aiCfg.TimeoutSecs > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(aiCfg.TimeoutSecs)*time.Second)
			defer cancel()
		}
		resp, err := client.CreateMessage(callCtx, req)
		if err == nil {
			resp.Usage.LogUsage(req.Model, "extract")
		}
		return resp, err
	})
}

// parseExtraction decodes the capability's response: a JSON object keyed by
// product id holding an "ingredients" or "claims" array, plus top-level
// "notes" and "servingIndicator" fields.
func parseExtraction(text string, frag model.RawFragment, d Domain) ([]model.ExtractedItem, []string, error) {
	cleaned := cleanJSON(text)

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &top); err != nil {
		return nil, nil, eris.Wrap(err, "parse extraction: top-level object")
	}

	raw, ok := top[frag.ProductID]
	if !ok {
		// Some responses key on a slightly different id; fall back to the
		// single non-metadata key if there is exactly one.
		var candidates []json.RawMessage
		for k, v := range top {
			if k != "notes" && k != "servingIndicator" {
				candidates = append(candidates, v)
			}
		}
		if len(candidates) != 1 {
			return nil, nil, eris.Errorf("parse extraction: no payload for product %s", frag.ProductID)
		}
		raw = candidates[0]
	}

	var payload wirePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, eris.Wrap(err, "parse extraction: payload")
	}

	wire := payload.Ingredients
	if d == DomainClaims {
		wire = payload.Claims
	}

	serving := stringField(top, "servingIndicator")

	var items []model.ExtractedItem
	for _, w := range wire {
		name := strings.TrimSpace(w.Name)
		if name == "" || isBoilerplate(name) {
			continue
		}
		item := model.ExtractedItem{
			RawName:          name,
			Unit:             model.DefaultUnit,
			Amount:           model.DefaultAmount,
			Role:             model.RoleActive,
			ServingIndicator: serving,
			SourceKind:       frag.SourceKind,
			Note:             strings.TrimSpace(w.Note),
		}
		if u := strings.TrimSpace(w.Unit); u != "" {
			item.Unit = u
		}
		if amt, ok := toAmount(w.Amount); ok {
			item.Amount = amt
		}
		if strings.EqualFold(strings.TrimSpace(w.Type), string(model.RoleInactive)) {
			item.Role = model.RoleInactive
		}
		if d == DomainClaims {
			item.Role = model.RoleActive
		}
		items = append(items, item)
	}

	var notes []string
	if n := stringField(top, "notes"); n != "" {
		notes = append(notes, fmt.Sprintf("%s: %s", frag.SourceKind, n))
	}

	return items, notes, nil
}

// boilerplateNames are label tokens that are not ingredients or claims. The
// prompt asks the capability to exclude them, but models slip, so the
// adapter enforces the rule itself.
var boilerplateNames = map[string]bool{
	"ingredients":          true,
	"ingredient":           true,
	"other ingredients":    true,
	"active ingredients":   true,
	"inactive ingredients": true,
	"total":                true,
	"contains":             true,
	"may contain":          true,
}

func isBoilerplate(name string) bool {
	return boilerplateNames[vocab.NormalizeName(name)]
}

func stringField(top map[string]json.RawMessage, key string) string {
	raw, ok := top[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
