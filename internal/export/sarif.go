// Package export renders the finding set of a completed scan into SARIF
// 2.1.0, the interchange format consumed by GitHub code scanning and
// similar downstream tooling.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/scoring"
	"github.com/vulnhawk/vulnhawk/internal/version"
)

const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"

// SARIF 2.1.0 structures.

type sarifDocument struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version,omitempty"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string              `json:"id"`
	Name             string              `json:"name,omitempty"`
	ShortDescription *sarifMessage       `json:"shortDescription,omitempty"`
	DefaultConfig    *sarifConfiguration `json:"defaultConfiguration,omitempty"`
	Properties       map[string]any      `json:"properties,omitempty"`
}

type sarifConfiguration struct {
	Level string `json:"level"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID       string            `json:"ruleId"`
	RuleIndex    int               `json:"ruleIndex"`
	Level        string            `json:"level"`
	Message      sarifMessage      `json:"message"`
	Locations    []sarifLocation   `json:"locations,omitempty"`
	Fingerprints map[string]string `json:"fingerprints,omitempty"`
	Properties   map[string]any    `json:"properties,omitempty"`
}

type sarifLocation struct {
	PhysicalLocation *sarifPhysicalLocation `json:"physicalLocation,omitempty"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

// severityToLevel maps finding severity onto the SARIF four-level scale.
func severityToLevel(severity string) string {
	switch severity {
	case db.SeverityCritical, db.SeverityHigh:
		return "error"
	case db.SeverityMedium:
		return "warning"
	case db.SeverityLow:
		return "note"
	default:
		return "none"
	}
}

// severityToScore maps severity to the GitHub security-severity property.
func severityToScore(severity string) string {
	return fmt.Sprintf("%.1f", scoring.EstimateCVSS("", severity))
}

// WriteSARIF renders the finding set as a SARIF document. Rules are emitted
// one per distinct category in input order and results reference their rule
// by index, so the same input always yields byte-identical output.
func WriteSARIF(w io.Writer, findings []*db.Finding) error {
	ruleIndex := map[string]int{}
	rules := []sarifRule{}
	results := make([]sarifResult, 0, len(findings))

	for _, finding := range findings {
		idx, ok := ruleIndex[finding.Category]
		if !ok {
			idx = len(rules)
			ruleIndex[finding.Category] = idx
			rules = append(rules, sarifRule{
				ID:   finding.Category,
				Name: categoryName(finding.Category),
				ShortDescription: &sarifMessage{
					Text: categoryName(finding.Category),
				},
				DefaultConfig: &sarifConfiguration{
					Level: severityToLevel(finding.Severity),
				},
				Properties: map[string]any{
					"tags":              []string{"security"},
					"security-severity": severityToScore(finding.Severity),
				},
			})
		}

		results = append(results, sarifResult{
			RuleID:    finding.Category,
			RuleIndex: idx,
			Level:     severityToLevel(finding.Severity),
			Message:   sarifMessage{Text: resultMessage(finding)},
			Locations: []sarifLocation{
				{
					PhysicalLocation: &sarifPhysicalLocation{
						ArtifactLocation: sarifArtifactLocation{
							URI: finding.AffectedComponent,
						},
					},
				},
			},
			Fingerprints: map[string]string{
				"vulnhawk/v1": finding.ID.String(),
			},
			Properties: map[string]any{
				"severity":    finding.Severity,
				"occurrences": finding.Occurrences,
				"status":      finding.Status,
			},
		})
	}

	doc := sarifDocument{
		Schema:  sarifSchema,
		Version: "2.1.0",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:           "vulnhawk",
						Version:        version.Version,
						InformationURI: "https://github.com/vulnhawk/vulnhawk",
						Rules:          rules,
					},
				},
				Results: results,
			},
		},
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("sarif encode: %w", err)
	}
	return nil
}

// resultMessage concatenates the finding's narrative fields into the result
// message text.
func resultMessage(finding *db.Finding) string {
	var sb strings.Builder
	sb.WriteString(finding.Title)
	if finding.Description != "" {
		sb.WriteString("\n\n")
		sb.WriteString(finding.Description)
	}
	if finding.Evidence != "" {
		sb.WriteString("\n\nEvidence: ")
		sb.WriteString(finding.Evidence)
	}
	if finding.Remediation != "" {
		sb.WriteString("\n\nRemediation: ")
		sb.WriteString(finding.Remediation)
	}
	if finding.CVEID != nil && *finding.CVEID != "" {
		sb.WriteString("\n\nCVE: ")
		sb.WriteString(*finding.CVEID)
	}
	return sb.String()
}

// categoryName renders a category constant as a readable rule name.
func categoryName(category string) string {
	words := strings.Split(strings.ToLower(category), "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
