package agent

import (
	"github.com/nextlevelbuilder/sovereignclaw/internal/approval"
	"github.com/nextlevelbuilder/sovereignclaw/internal/budget"
	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/policy"
	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
	"github.com/nextlevelbuilder/sovereignclaw/internal/tools"
)

// Builder assembles a Controller with its optional collaborators.
type Builder struct {
	cfg          Config
	provider     providers.Provider
	model        string
	registry     tools.Registry
	sessions     store.SessionStore
	artifacts    store.ArtifactStore
	policies     *policy.Engine
	gate         *approval.Gate
	emitter      *bus.Emitter
	budgets      *budget.Controller
	capabilities []Capability
}

func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

func (b *Builder) WithProvider(p providers.Provider) *Builder {
	b.provider = p
	return b
}

func (b *Builder) WithModel(model string) *Builder {
	b.model = model
	return b
}

func (b *Builder) WithRegistry(r tools.Registry) *Builder {
	b.registry = r
	return b
}

func (b *Builder) WithSessions(s store.SessionStore) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithArtifacts(a store.ArtifactStore) *Builder {
	b.artifacts = a
	return b
}

func (b *Builder) WithPolicy(e *policy.Engine) *Builder {
	b.policies = e
	return b
}

func (b *Builder) WithApprovalGate(g *approval.Gate) *Builder {
	b.gate = g
	return b
}

func (b *Builder) WithEmitter(e *bus.Emitter) *Builder {
	b.emitter = e
	return b
}

func (b *Builder) WithBudget(bc *budget.Controller) *Builder {
	b.budgets = bc
	return b
}

// WithCapability appends to the chain; order of calls is hook order.
func (b *Builder) WithCapability(c Capability) *Builder {
	b.capabilities = append(b.capabilities, c)
	return b
}

func (b *Builder) Build() *Controller {
	c := NewController(b.cfg, b.provider, b.registry, b.sessions)
	if b.model != "" {
		c.model = b.model
	}
	c.artifacts = b.artifacts
	c.policies = b.policies
	c.gate = b.gate
	c.emitter = b.emitter
	c.budgets = b.budgets
	c.capabilities = b.capabilities
	c.parser = NewActionParser(b.capabilities)
	return c
}
