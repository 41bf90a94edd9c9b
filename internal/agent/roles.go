package agent

import (
	"fmt"
	"strings"
)

// Role identifies one of the closed set of executive identities the system
// models. Adding a role means adding a constant here plus a strategy entry in
// roleStrategies; there is no open hierarchy.
type Role string

const (
	RoleCEO             Role = "ceo"
	RoleCTO             Role = "cto"
	RoleCFO             Role = "cfo"
	RoleCMO             Role = "cmo"
	RoleCOO             Role = "coo"
	RoleSales           Role = "sales"
	RoleCustomerService Role = "customer_service"
)

// AllRoles returns every role in a stable order.
func AllRoles() []Role {
	return []Role{RoleCEO, RoleCTO, RoleCFO, RoleCMO, RoleCOO, RoleSales, RoleCustomerService}
}

// ParseRole maps a user-supplied role string onto the closed set.
// Accepts a few common aliases ("director" for the CEO, "support" for
// customer service).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ceo", "director":
		return RoleCEO, nil
	case "cto":
		return RoleCTO, nil
	case "cfo":
		return RoleCFO, nil
	case "cmo":
		return RoleCMO, nil
	case "coo":
		return RoleCOO, nil
	case "sales":
		return RoleSales, nil
	case "customer_service", "customer-service", "support":
		return RoleCustomerService, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Strategy carries the per-role behavior: display name, the keyword lexicon
// the delegation engine scores against, a confidence boost applied when the
// lexicon matches, and the system prompt the coordinator hands to the LLM
// backend.
type Strategy struct {
	DisplayName  string
	Lexicon      []string
	Boost        float64
	promptHeader string
}

// SystemPrompt builds the role-specific system prompt, optionally folding in
// retrieved context snippets.
func (s *Strategy) SystemPrompt(contextSnippets []string) string {
	var b strings.Builder
	b.WriteString(s.promptHeader)
	if len(contextSnippets) > 0 {
		b.WriteString("\n\nUse the following context when relevant:\n")
		for i, snippet := range contextSnippets {
			fmt.Fprintf(&b, "\n[%d] %s\n", i+1, snippet)
		}
	}
	return b.String()
}

var roleStrategies = map[Role]*Strategy{
	RoleCEO: {
		DisplayName: "Chief Executive Officer",
		Lexicon: []string{
			"strategy", "vision", "mission", "company", "board", "investors",
			"acquisition", "partnership", "leadership", "culture", "roadmap",
			"priorities", "okr", "decision",
		},
		Boost: 0.05,
		promptHeader: "You are the CEO of the company. You set direction, weigh " +
			"trade-offs across departments, and give decisive, high-level answers. " +
			"Delegate specifics to the right executive when appropriate.",
	},
	RoleCTO: {
		DisplayName: "Chief Technology Officer",
		Lexicon: []string{
			"api", "architecture", "deploy", "deployment", "bug", "latency",
			"infrastructure", "kubernetes", "database", "security", "scaling",
			"code", "engineering", "technical", "server", "cloud", "pipeline",
			"staging", "production", "release", "migration",
		},
		Boost: 0.1,
		promptHeader: "You are the CTO. You answer technical questions about " +
			"architecture, infrastructure, engineering process and delivery with " +
			"concrete, pragmatic guidance.",
	},
	RoleCFO: {
		DisplayName: "Chief Financial Officer",
		Lexicon: []string{
			"budget", "revenue", "margin", "forecast", "cash", "burn", "runway",
			"cost", "expenses", "profit", "invoice", "pricing", "quarterly",
			"financial", "funding", "audit", "tax",
		},
		Boost: 0.1,
		promptHeader: "You are the CFO. You answer questions about budgets, " +
			"forecasts, cash position and financial planning with numbers where " +
			"you have them and clearly-stated assumptions where you do not.",
	},
	RoleCMO: {
		DisplayName: "Chief Marketing Officer",
		Lexicon: []string{
			"marketing", "campaign", "brand", "content", "social", "seo",
			"advertising", "audience", "launch", "messaging", "conversion",
			"engagement", "newsletter", "press",
		},
		Boost: 0.1,
		promptHeader: "You are the CMO. You answer questions about positioning, " +
			"campaigns, channels and brand with an eye on measurable outcomes.",
	},
	RoleCOO: {
		DisplayName: "Chief Operating Officer",
		Lexicon: []string{
			"operations", "process", "logistics", "supply", "vendor", "hiring",
			"onboarding", "checklist", "procedure", "compliance", "workflow",
			"schedule", "capacity", "efficiency",
		},
		Boost: 0.1,
		promptHeader: "You are the COO. You answer questions about day-to-day " +
			"operations, process and execution with practical, step-by-step detail.",
	},
	RoleSales: {
		DisplayName: "Head of Sales",
		Lexicon: []string{
			"sales", "deal", "pipeline", "lead", "prospect", "quota", "crm",
			"negotiation", "contract", "renewal", "upsell", "demo", "outreach",
		},
		Boost: 0.1,
		promptHeader: "You are the Head of Sales. You answer questions about " +
			"pipeline, deals and go-to-market execution.",
	},
	RoleCustomerService: {
		DisplayName: "Head of Customer Service",
		Lexicon: []string{
			"customer", "support", "ticket", "complaint", "refund", "sla",
			"satisfaction", "escalation", "churn", "feedback", "helpdesk",
		},
		Boost: 0.1,
		promptHeader: "You are the Head of Customer Service. You answer questions " +
			"about support quality, escalations and customer experience.",
	},
}

// StrategyFor returns the strategy for a role. The closed set guarantees a
// strategy exists for every valid Role.
func StrategyFor(role Role) *Strategy {
	return roleStrategies[role]
}
