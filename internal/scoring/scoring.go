// Package scoring derives per-finding CVSS estimates and the per-target
// aggregate security score. The aggregate is computed on demand from current
// open-finding counts and is never stored.
package scoring

import (
	"math"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

// Security score deductions per open finding.
const (
	deductionCritical = 25
	deductionHigh     = 10
	deductionMedium   = 3
	deductionLow      = 1
)

// categoryCVSS maps each vulnerability category to a representative CVSS
// v3.1 base score drawn from typical NVD data for that class.
var categoryCVSS = map[string]float64{
	db.CategorySQLInjection:       9.8,
	db.CategoryCommandInjection:   9.8,
	db.CategoryRFI:                9.1,
	db.CategorySSRF:               8.6,
	db.CategoryXSSStored:          8.1,
	db.CategoryLFI:                7.5,
	db.CategoryPathTraversal:      7.5,
	db.CategoryIDOR:               7.5,
	db.CategoryXSSReflected:       6.1,
	db.CategoryCORSMisconfig:      5.3,
	db.CategoryCSRF:               4.3,
	db.CategoryOpenRedirect:       4.3,
	db.CategorySSLTLS:             5.3,
	db.CategoryCertIssue:          4.8,
	db.CategorySecurityHeaders:    3.7,
	db.CategoryCookieSecurity:     3.5,
	db.CategoryHTTPMethods:        3.1,
	db.CategoryInfoDisclosure:     5.3,
	db.CategoryDirectoryListing:   5.3,
	db.CategorySensitiveFile:      5.3,
	db.CategoryOutdatedSoftware:   5.6,
	db.CategoryDefaultCredentials: 9.8,
	db.CategoryEmailSecurity:      3.7,
	db.CategoryWAFDetected:        0.0,
	db.CategoryOther:              3.0,
}

// severityCVSS holds the midpoint fallback when a category has no table
// entry.
var severityCVSS = map[string]float64{
	db.SeverityCritical: 9.5,
	db.SeverityHigh:     7.5,
	db.SeverityMedium:   5.0,
	db.SeverityLow:      2.5,
	db.SeverityInfo:     0.0,
}

// EstimateCVSS returns a CVSS estimate for a finding that arrived without
// one. The category table is consulted first; unknown categories fall back
// to the severity midpoint.
func EstimateCVSS(category, severity string) float64 {
	if score, ok := categoryCVSS[category]; ok {
		return score
	}
	return severityCVSS[severity]
}

// SecurityScore computes the 0-100 posture number from open-finding
// severity counts. INFO findings never affect the score.
func SecurityScore(counts db.SeverityCounts) int {
	deduction := counts.Critical*deductionCritical +
		counts.High*deductionHigh +
		counts.Medium*deductionMedium +
		counts.Low*deductionLow
	if deduction > 100 {
		deduction = 100
	}
	return 100 - deduction
}

// Summary is the scan-level risk rollup returned alongside results.
type Summary struct {
	TotalFindings  int            `json:"total_findings"`
	SeverityCounts map[string]int `json:"severity_counts"`
	RiskScore      int            `json:"risk_score"`
	SecurityScore  int            `json:"security_score"`
	AvgCVSS        float64        `json:"avg_cvss"`
	MaxCVSS        float64        `json:"max_cvss"`
	Distribution   map[string]int `json:"cvss_distribution"`
}

// Summarize builds the risk rollup for a set of findings. Findings with an
// explicit CVSS use it; the rest are estimated. The risk score scales the
// average CVSS by a capped finding-count factor.
func Summarize(findings []db.Finding) Summary {
	summary := Summary{
		SeverityCounts: map[string]int{
			db.SeverityCritical: 0, db.SeverityHigh: 0, db.SeverityMedium: 0,
			db.SeverityLow: 0, db.SeverityInfo: 0,
		},
		Distribution: map[string]int{
			"critical_9_10": 0, "high_7_9": 0, "medium_4_7": 0,
			"low_0_4": 0, "info": 0,
		},
	}
	summary.TotalFindings = len(findings)

	var counts db.SeverityCounts
	var sum, max float64
	for i := range findings {
		f := &findings[i]
		summary.SeverityCounts[f.Severity]++
		switch f.Severity {
		case db.SeverityCritical:
			counts.Critical++
		case db.SeverityHigh:
			counts.High++
		case db.SeverityMedium:
			counts.Medium++
		case db.SeverityLow:
			counts.Low++
		case db.SeverityInfo:
			counts.Info++
		}

		score := EstimateCVSS(f.Category, f.Severity)
		if f.CVSSScore != nil {
			score = *f.CVSSScore
		}
		sum += score
		if score > max {
			max = score
		}

		switch {
		case score >= 9.0:
			summary.Distribution["critical_9_10"]++
		case score >= 7.0:
			summary.Distribution["high_7_9"]++
		case score >= 4.0:
			summary.Distribution["medium_4_7"]++
		case score >= 0.1:
			summary.Distribution["low_0_4"]++
		default:
			summary.Distribution["info"]++
		}
	}

	if len(findings) > 0 {
		avg := sum / float64(len(findings))
		countFactor := math.Min(float64(len(findings))/5, 3.0)
		countFactor = math.Max(countFactor, 1.0)
		summary.RiskScore = int(math.Min(100, math.Round(avg*10*countFactor)))
		summary.AvgCVSS = math.Round(avg*10) / 10
		summary.MaxCVSS = math.Round(max*10) / 10
	}
	summary.SecurityScore = SecurityScore(counts)

	return summary
}
