package pipeline

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/chembl-sql/pkg/pipeline/prompts"
)

// Prompts contains the system prompts loaded from embedded files.
type Prompts struct {
	ChemblDescription string // Domain summary given to the classifier
	Classify          string
	Plan              string
	Guidelines        string
	Synthesize        string
	Repair            string
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.ChemblDescription, err = loadPrompt("CHEMBL_DESCRIPTION.md"); err != nil {
		return nil, fmt.Errorf("failed to load CHEMBL_DESCRIPTION: %w", err)
	}
	if p.Classify, err = loadPrompt("CLASSIFY.md"); err != nil {
		return nil, fmt.Errorf("failed to load CLASSIFY: %w", err)
	}
	if p.Plan, err = loadPrompt("PLAN.md"); err != nil {
		return nil, fmt.Errorf("failed to load PLAN: %w", err)
	}
	if p.Guidelines, err = loadPrompt("GUIDELINES.md"); err != nil {
		return nil, fmt.Errorf("failed to load GUIDELINES: %w", err)
	}
	if p.Synthesize, err = loadPrompt("SYNTHESIZE.md"); err != nil {
		return nil, fmt.Errorf("failed to load SYNTHESIZE: %w", err)
	}
	if p.Repair, err = loadPrompt("REPAIR.md"); err != nil {
		return nil, fmt.Errorf("failed to load REPAIR: %w", err)
	}
	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
