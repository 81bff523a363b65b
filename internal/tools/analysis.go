package tools

import (
	"context"
	"fmt"

	"github.com/nichescout/nichescout/internal/llm"
)

func searchTool(name, description, queryFormat string, s Searcher) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Param:       "query",
		Fn: func(ctx context.Context, q string) (string, error) {
			return s.Search(ctx, fmt.Sprintf(queryFormat, q))
		},
	}
}

func WebSearch(s Searcher) Tool {
	return searchTool("web_search",
		"Search the web for current information about companies, products, markets, or any topic.",
		"%s", s)
}

func CompetitorAnalysis(s Searcher) Tool {
	return searchTool("competitor_analysis",
		"Find competitors in a market or niche: their products, pricing and positioning.",
		"competitors in %s market SaaS products", s)
}

func ReviewAnalysis(s Searcher) Tool {
	return searchTool("review_analysis",
		"Find reviews of products in a market to understand user pain points and satisfaction.",
		"%s reviews user feedback complaints", s)
}

func MarketSizeResearch(s Searcher) Tool {
	return searchTool("market_size_research",
		"Research market size (TAM, SAM) and growth trends for an industry or niche.",
		"%s market size TAM SAM growth statistics 2024", s)
}

func analysisTool(name, description, promptFormat string, c llm.Client) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Param:       "description",
		Fn: func(ctx context.Context, idea string) (string, error) {
			return llm.Complete(ctx, c, []llm.Message{llm.Human("", fmt.Sprintf(promptFormat, idea))})
		},
	}
}

const painKillerPrompt = `Analyze the product idea below against these indicators.

Product idea:
%s

Pain killer indicators:
- Solves urgent, critical problems
- Users actively seek solutions
- High willingness to pay
- Replaces existing expensive or time-consuming solutions

Vitamin indicators:
- Nice-to-have features
- Users may not actively seek it
- Lower urgency
- Enhancement rather than necessity

Answer in this format:
Analysis:
- Pain Killer: [Yes/No]
- Vitamin: [Yes/No]`

const bootstrappingPrompt = `Analyze whether the product idea below can be built without external funding.

Product idea:
%s

Consider:
- Development complexity and time
- Initial capital requirements
- Time to first revenue
- Team size needed
- Infrastructure costs

Answer in this format:
Analysis:
- Bootstrapping Feasibility: [Yes/No]`

const paymentPrompt = `Assess whether people will pay for this product: %s

Consider:
- Problem severity and urgency
- Existing free alternatives
- Target customer's budget
- Value proposition strength
- Market willingness to pay for similar solutions

Finish with a one-line assessment.`

const distributionPrompt = `Generate a distribution strategy for the product idea below.

Product idea:
%s`

func PainKillerVitamin(c llm.Client) Tool {
	return analysisTool("analyze_pain_killer_vitamin",
		"Judge whether a product idea is a pain killer or a vitamin.", painKillerPrompt, c)
}

func BootstrappingFeasibility(c llm.Client) Tool {
	return analysisTool("analyze_bootstrapping_feasibility",
		"Judge whether a product idea can be bootstrapped without external funding.", bootstrappingPrompt, c)
}

func PaymentWillingness(c llm.Client) Tool {
	return analysisTool("analyze_payment_willingness",
		"Judge whether people will pay for a product idea.", paymentPrompt, c)
}

func DistributionStrategy(c llm.Client) Tool {
	return analysisTool("generate_distribution_strategy",
		"Generate a distribution strategy for a product idea.", distributionPrompt, c)
}

// ForWorker returns the tool belt of a worker.
func ForWorker(id string, s Searcher, c llm.Client) (*Set, error) {
	switch id {
	case "saas_finder":
		return NewSet(PainKillerVitamin(c), BootstrappingFeasibility(c), PaymentWillingness(c), WebSearch(s)), nil
	case "market":
		return NewSet(WebSearch(s), DistributionStrategy(c), MarketSizeResearch(s)), nil
	case "research":
		return NewSet(WebSearch(s), CompetitorAnalysis(s), ReviewAnalysis(s)), nil
	default:
		return nil, fmt.Errorf("no tools for worker %q", id)
	}
}
