package engine

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidRequest is the sentinel for validation rejections. Validation
// happens before any external call or progress event.
var ErrInvalidRequest = eris.New("engine: invalid research request")

// ServiceHypothesis describes the business idea under research. The first
// five fields are mandatory; the rest refine the analysis when present.
type ServiceHypothesis struct {
	Concept               string `json:"concept" yaml:"concept"`
	CustomerProblem       string `json:"customerProblem" yaml:"customerProblem"`
	TargetIndustry        string `json:"targetIndustry" yaml:"targetIndustry"`
	TargetUsers           string `json:"targetUsers" yaml:"targetUsers"`
	Competitors           string `json:"competitors" yaml:"competitors"`
	RevenueModel          string `json:"revenueModel,omitempty" yaml:"revenueModel"`
	PricingDirection      string `json:"pricingDirection,omitempty" yaml:"pricingDirection"`
	UVP                   string `json:"uvp,omitempty" yaml:"uvp"`
	InitialKPI            string `json:"initialKpi,omitempty" yaml:"initialKpi"`
	AcquisitionChannels   string `json:"acquisitionChannels,omitempty" yaml:"acquisitionChannels"`
	RegulatoryTechPrereqs string `json:"regulatoryTechPrereqs,omitempty" yaml:"regulatoryTechPrereqs"`
	CostStructure         string `json:"costStructure,omitempty" yaml:"costStructure"`
}

// ResearchRequest is the immutable input of one pipeline run.
type ResearchRequest struct {
	BusinessName string            `json:"businessName"`
	Hypothesis   ServiceHypothesis `json:"serviceHypothesis"`
}

// Validate checks the invocation precondition: non-empty business name and
// all five mandatory hypothesis fields present.
func (r ResearchRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.BusinessName) == "" {
		missing = append(missing, "businessName")
	}
	mandatory := []struct {
		name  string
		value string
	}{
		{"concept", r.Hypothesis.Concept},
		{"customerProblem", r.Hypothesis.CustomerProblem},
		{"targetIndustry", r.Hypothesis.TargetIndustry},
		{"targetUsers", r.Hypothesis.TargetUsers},
		{"competitors", r.Hypothesis.Competitors},
	}
	for _, f := range mandatory {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return eris.Wrapf(ErrInvalidRequest, "missing fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// HypothesisBlock renders the hypothesis as a labeled markdown block for
// prompt construction. Empty optional fields are omitted.
func (r ResearchRequest) HypothesisBlock() string {
	fields := []struct {
		label string
		value string
	}{
		{"Concept", r.Hypothesis.Concept},
		{"Customer Problem", r.Hypothesis.CustomerProblem},
		{"Target Industry", r.Hypothesis.TargetIndustry},
		{"Target Users", r.Hypothesis.TargetUsers},
		{"Competitors", r.Hypothesis.Competitors},
		{"Revenue Model", r.Hypothesis.RevenueModel},
		{"Pricing Direction", r.Hypothesis.PricingDirection},
		{"Unique Value Proposition", r.Hypothesis.UVP},
		{"Initial KPI", r.Hypothesis.InitialKPI},
		{"Acquisition Channels", r.Hypothesis.AcquisitionChannels},
		{"Regulatory / Technical Prerequisites", r.Hypothesis.RegulatoryTechPrereqs},
		{"Cost Structure", r.Hypothesis.CostStructure},
	}

	var b strings.Builder
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("- **%s**: %s\n", f.label, f.value))
	}
	return b.String()
}
