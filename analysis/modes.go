package analysis

import (
	"context"

	"github.com/nijaru/scriptparser/models"
)

// Modes dispatches each request to the router for its analysis mode.
type Modes struct {
	general *Router
	tech    *Router
}

// NewModes pairs the routers. A nil tech router sends tech requests to the
// general one.
func NewModes(general, tech *Router) *Modes {
	if tech == nil {
		tech = general
	}
	return &Modes{general: general, tech: tech}
}

func (m *Modes) Analyze(ctx context.Context, text string, mode models.AnalysisMode) (*models.StructuredAnalysis, error) {
	if mode == models.ModeTech {
		return m.tech.Analyze(ctx, text)
	}
	return m.general.Analyze(ctx, text)
}
