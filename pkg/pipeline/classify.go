package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/malbeclabs/chembl-sql/pkg/llm"
	"github.com/malbeclabs/chembl-sql/pkg/metrics"
)

const (
	heuristicReason     = "Heuristic classification based on keyword overlap."
	defaultRejectReason = "Query not related to ChEMBL domain."

	heuristicThreshold = 0.08
)

var domainKeywords = []string{
	"chembl", "assay", "assays", "activity", "activities", "bioactivity", "ic50", "ec50", "ki",
	"potency", "pchembl", "compound", "compounds", "molecule", "molecules", "smiles", "inchi",
	"target", "targets", "uniprot", "mechanism", "indication", "binding", "affinity",
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// Classification is the relevance decision for a prompt.
type Classification struct {
	InDomain   bool    `json:"is_chembl"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Heuristic  bool    `json:"heuristic"`
}

// Classify decides whether prompt is about the ChEMBL domain. It never fails: model or
// parse errors fall back to keyword overlap.
func (p *Pipeline) Classify(ctx context.Context, prompt string) Classification {
	user := "ChEMBL description:\n" + p.prompts.ChemblDescription + "\n\n" +
		"User question:\n" + strings.TrimSpace(prompt)

	resp, err := p.cfg.LLM.Complete(ctx, p.prompts.Classify, user, llm.WithCacheControl())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrClassification, err)
	} else {
		c, perr := parseClassifyResponse(resp)
		if perr == nil {
			return c
		}
		err = fmt.Errorf("%w: %w", ErrClassification, perr)
	}

	metrics.ClassifierFallbacksTotal.Inc()
	p.log.Warn("pipeline: classifier falling back to keyword heuristic", "error", err)
	return heuristicClassify(prompt)
}

func parseClassifyResponse(text string) (Classification, error) {
	text = strings.TrimSpace(text)

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		m := jsonObjectRe.FindString(text)
		if m == "" {
			return Classification{}, errors.New("no JSON object in classifier response")
		}
		if err := json.Unmarshal([]byte(m), &raw); err != nil {
			return Classification{}, fmt.Errorf("failed to parse classifier response: %w", err)
		}
	}

	inDomain, err := coerceBool(raw["is_chembl"])
	if err != nil {
		return Classification{}, fmt.Errorf("invalid is_chembl: %w", err)
	}
	conf, err := coerceFloat(raw["confidence"])
	if err != nil {
		return Classification{}, fmt.Errorf("invalid confidence: %w", err)
	}
	var reason string
	if v, ok := raw["reason"]; ok && v != nil {
		reason = fmt.Sprint(v)
	}

	return Classification{
		InDomain:   inDomain,
		Confidence: clamp01(conf),
		Reason:     reason,
	}, nil
}

// coerceBool accepts JSON booleans, numbers and boolean-looking strings. A missing value
// is false.
func coerceBool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return false, nil
		}
		switch strings.ToLower(t) {
		case "yes", "y":
			return true, nil
		case "no", "n":
			return false, nil
		}
		return strconv.ParseBool(t)
	default:
		return false, fmt.Errorf("unexpected type %T", v)
	}
}

// coerceFloat accepts JSON numbers and numeric strings. A missing value is 0.
func coerceFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(f) {
			return 0, errors.New("confidence is NaN")
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func heuristicClassify(prompt string) Classification {
	lower := strings.ToLower(prompt)
	hits := 0
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	score := float64(hits) / float64(len(domainKeywords))
	return Classification{
		InDomain:   strings.Contains(lower, "chembl") || score >= heuristicThreshold,
		Confidence: clamp01(score),
		Reason:     heuristicReason,
		Heuristic:  true,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
