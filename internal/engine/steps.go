package engine

// FallbackCategory selects the generic checklist used when a step's
// generation call exhausts retries. Bound statically per step id.
type FallbackCategory string

const (
	CategoryMarket   FallbackCategory = "market"
	CategoryCustomer FallbackCategory = "customer"
	CategoryStrategy FallbackCategory = "strategy"
	CategoryFinance  FallbackCategory = "finance"
	CategoryRisk     FallbackCategory = "risk"
	CategoryGeneric  FallbackCategory = "generic"
)

// StepDefinition is one of the 16 fixed analysis steps. IDs are 1-based,
// dense, and stable across releases; template files are keyed by TemplateKey.
type StepDefinition struct {
	ID          int              `json:"id"`
	Title       string           `json:"title"`
	TemplateKey string           `json:"templateKey"`
	Category    FallbackCategory `json:"-"`
	Prompt      string           `json:"-"`
}

const analysisPreamble = `You are a market research analyst. The business under research is "{{businessName}}".

## Service Hypothesis
{{hypothesis}}

`

// stepDefinitions is the fixed, ordered analysis step table, loaded once at
// process start.
var stepDefinitions = []StepDefinition{
	{1, "Market Size & Growth", "market-size", CategoryMarket, analysisPreamble +
		"Estimate TAM, SAM and SOM for this business with explicit assumptions, and describe the market's growth trajectory over the next five years. Cite the reasoning behind every figure."},
	{2, "Competitive Landscape", "competitive-landscape", CategoryMarket, analysisPreamble +
		"Map the competitive landscape: direct and indirect competitors, their positioning, strengths, weaknesses, and likely responses to a new entrant."},
	{3, "Target Customer Segments", "customer-segments", CategoryCustomer, analysisPreamble +
		"Segment the target market. For each segment describe demographics or firmographics, needs, buying behavior, and relative attractiveness."},
	{4, "Customer Pain Point Validation", "pain-points", CategoryCustomer, analysisPreamble +
		"Assess how real and severe the stated customer problem is. Identify evidence that would validate or invalidate it, and current workarounds customers use."},
	{5, "Pricing & Willingness to Pay", "pricing", CategoryFinance, analysisPreamble +
		"Analyze pricing strategy options and likely willingness to pay per segment. Compare against competitor price points and recommend an initial pricing structure."},
	{6, "Distribution Channels", "channels", CategoryStrategy, analysisPreamble +
		"Evaluate distribution and sales channels available to this business, their cost, reach, and fit with the target users. Recommend a channel mix."},
	{7, "Regulatory & Compliance", "regulatory", CategoryRisk, analysisPreamble +
		"Identify the regulatory, licensing, and compliance requirements that apply to this business in its target industry, and the cost and timeline of meeting them."},
	{8, "Technology Trends", "tech-trends", CategoryMarket, analysisPreamble +
		"Describe the technology trends shaping this market, which are tailwinds or headwinds for the hypothesis, and the expected pace of change."},
	{9, "Partnership & Ecosystem", "partnerships", CategoryStrategy, analysisPreamble +
		"Map the partner ecosystem: platforms, integrators, resellers, and complementary products. Identify the three most valuable partnerships to pursue first."},
	{10, "Brand Positioning", "positioning", CategoryStrategy, analysisPreamble +
		"Propose a positioning statement and messaging pillars that differentiate this business from the named competitors for the stated target users."},
	{11, "Go-to-Market Strategy", "go-to-market", CategoryStrategy, analysisPreamble +
		"Design a phased go-to-market plan: beachhead segment, launch sequencing, and the milestones that gate expansion."},
	{12, "Unit Economics", "unit-economics", CategoryFinance, analysisPreamble +
		"Model the unit economics: CAC, LTV, gross margin, and payback period under conservative and optimistic assumptions. State every assumption explicitly."},
	{13, "Customer Acquisition", "acquisition", CategoryCustomer, analysisPreamble +
		"Evaluate acquisition channels against the stated acquisition hypothesis. Estimate cost per acquisition per channel and recommend an initial budget split."},
	{14, "Risk Assessment", "risk", CategoryRisk, analysisPreamble +
		"Enumerate the material risks (market, execution, financial, regulatory) with likelihood, impact, and a mitigation for each."},
	{15, "International Expansion", "international", CategoryMarket, analysisPreamble +
		"Assess international expansion potential: which geographies fit, localization requirements, and the signals that should trigger expansion."},
	{16, "SWOT Summary", "swot", CategoryStrategy, analysisPreamble +
		"Produce a SWOT analysis grounded in the hypothesis, with the three most decisive items in each quadrant explained."},
}

// AnalysisStepCount is the number of analysis steps in the fixed topology.
const AnalysisStepCount = 16

// Steps returns the fixed analysis step table.
func Steps() []StepDefinition {
	return stepDefinitions
}
