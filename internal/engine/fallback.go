package engine

import (
	"fmt"
	"strings"

	"github.com/t-hamamura/market-research-system/internal/prompts"
)

// fallbackChecklists holds the topic-appropriate checklist appended to every
// fallback artifact, keyed by the step's statically bound category.
var fallbackChecklists = map[FallbackCategory][]string{
	CategoryMarket: {
		"Size the market top-down from industry reports and bottom-up from unit assumptions",
		"Identify the three largest incumbents and their announced strategies",
		"Check analyst forecasts for category growth over the next five years",
		"List adjacent markets that could converge with this one",
	},
	CategoryCustomer: {
		"Interview five prospective users about the stated problem",
		"Document the workarounds customers use today and what they cost",
		"Define the segments most likely to adopt first and why",
		"Validate willingness to pay with a pricing survey or pre-orders",
	},
	CategoryStrategy: {
		"Draft a positioning statement and test it against competitor messaging",
		"Choose a beachhead segment narrow enough to dominate",
		"List the partnerships that would shorten the path to customers",
		"Define the milestones that gate each expansion phase",
	},
	CategoryFinance: {
		"Model CAC and LTV under conservative assumptions",
		"Compare pricing against the nearest three competitor offerings",
		"Estimate gross margin at current and target scale",
		"Identify the break-even volume and its sensitivity to churn",
	},
	CategoryRisk: {
		"Enumerate regulatory requirements in each target jurisdiction",
		"Rank risks by likelihood and impact; assign an owner to each",
		"Define early-warning indicators for the top three risks",
		"Prepare a mitigation or exit plan for the highest-impact risk",
	},
	CategoryGeneric: {
		"Gather primary data on this topic from customers or public filings",
		"Benchmark against the closest comparable businesses",
		"Identify the single assumption whose failure hurts most",
		"Schedule a follow-up analysis once external services recover",
	},
}

// Fallback produces the deterministic placeholder artifact substituted when
// a step's generation call cannot succeed after retries. Pure; never empty.
func Fallback(def StepDefinition, cause error) string {
	checklist, ok := fallbackChecklists[def.Category]
	if !ok {
		checklist = fallbackChecklists[CategoryGeneric]
	}

	causeText := "unknown error"
	if cause != nil {
		causeText = cause.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", def.Title)
	b.WriteString("> ⚠️ Automated analysis was unavailable for this topic. ")
	b.WriteString("The generation service could not be reached after repeated attempts.\n\n")
	fmt.Fprintf(&b, "**Cause**: %s\n\n", causeText)
	b.WriteString("## Suggested manual checklist\n\n")
	for _, item := range checklist {
		fmt.Fprintf(&b, "- [ ] %s\n", item)
	}
	b.WriteString("\nRe-run this research once the service is available to replace this placeholder.\n")
	return b.String()
}

// SynthesisFallback produces the deterministic synthesis substituted when the
// synthesis generation call fails: step titles with truncated excerpts.
func SynthesisFallback(businessName string, results []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Synthesis: %s\n\n", businessName)
	b.WriteString("> ⚠️ The AI-written synthesis was unavailable. ")
	b.WriteString("Below are the collected findings per topic.\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "## %d. %s\n\n%s\n\n", r.ID, r.Title, prompts.Truncate(r.Text, prompts.PreviewLimit))
	}
	return b.String()
}
