// Package provider describes the people-search sites missions run against
// and routes missions to one of them.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/voxleads/chimera/internal/classify"
	"github.com/voxleads/chimera/internal/mission"
)

// Provider is one target site's capability sheet: how to reach its search
// results, which blueprint intents yield which fields, and the signatures of
// its hostile pages.
type Provider struct {
	Name   string
	Domain string
	// SearchURL renders the deep-link search URL for a lead.
	SearchURL func(lead mission.Lead) string
	// FieldIntents maps extracted field names to blueprint intents.
	FieldIntents map[string]string
	Markers      classify.Markers
	// Budget is the wall-clock ceiling for a mission on this provider.
	Budget time.Duration

	limiter *rate.Limiter
}

// Wait blocks until the provider's rate budget admits another mission.
func (p *Provider) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("provider %s rate limit: %w", p.Name, err)
	}
	return nil
}

// Registry holds the known providers and answers routing decisions.
type Registry struct {
	mu        sync.Mutex
	providers map[string]*Provider
	order     []string
	next      int
}

// NewRegistry builds a registry. QPS bounds per-provider mission admission;
// zero disables limiting.
func NewRegistry(qps float64) *Registry {
	r := &Registry{providers: make(map[string]*Provider)}
	for _, p := range builtins() {
		if qps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(qps), 1)
		}
		r.providers[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	return r
}

// Register adds or replaces a provider. Used for non-builtin targets and in
// tests.
func (r *Registry) Register(p *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name]; !ok {
		r.order = append(r.order, p.Name)
	}
	r.providers[p.Name] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// Route resolves a mission's target provider. An explicit target must exist;
// "any" (or empty) rotates across the registry so no single site absorbs the
// whole mission stream.
func (r *Registry) Route(target string) (*Provider, error) {
	if target != "" && target != mission.ProviderAny {
		return r.Get(target)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no providers registered")
	}
	name := r.order[r.next%len(r.order)]
	r.next++
	return r.providers[name], nil
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func builtins() []*Provider {
	return []*Provider{
		{
			Name:   "truepeoplesearch",
			Domain: "truepeoplesearch.com",
			SearchURL: func(lead mission.Lead) string {
				q := url.Values{}
				q.Set("name", lead.Name)
				q.Set("citystatezip", location(lead))
				return "https://www.truepeoplesearch.com/results?" + q.Encode()
			},
			FieldIntents: map[string]string{
				mission.FieldPhone:   mission.IntentPhoneField,
				mission.FieldAddress: mission.IntentAddressField,
				mission.FieldAge:     mission.IntentAgeField,
			},
			Markers: classify.Markers{
				CaptchaSelectors: []string{"#px-captcha", "iframe[src*='captcha']"},
				CaptchaPhrases:   []string{"press & hold", "verify you are human"},
				BlockPhrases:     []string{"access denied", "unusual traffic"},
				NoResultPhrases:  []string{"no results found", "0 records found"},
				ResultSelector:   "div.card-summary",
			},
			Budget: 90 * time.Second,
		},
		{
			Name:   "fastpeoplesearch",
			Domain: "fastpeoplesearch.com",
			SearchURL: func(lead mission.Lead) string {
				name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lead.Name), " ", "-"))
				loc := strings.ToLower(strings.ReplaceAll(location(lead), ", ", "-"))
				loc = strings.ReplaceAll(loc, " ", "-")
				return fmt.Sprintf("https://www.fastpeoplesearch.com/name/%s_%s", name, loc)
			},
			FieldIntents: map[string]string{
				mission.FieldPhone:   mission.IntentPhoneField,
				mission.FieldCarrier: mission.IntentPhoneField,
				mission.FieldAddress: mission.IntentAddressField,
			},
			Markers: classify.Markers{
				CaptchaSelectors: []string{"iframe[src*='recaptcha']", "#challenge-form"},
				CaptchaPhrases:   []string{"checking your browser", "complete the security check"},
				BlockPhrases:     []string{"access denied"},
				NoResultPhrases:  []string{"no records found", "couldn't find anyone"},
				ResultSelector:   "div.people-list .card",
			},
			Budget: 90 * time.Second,
		},
	}
}

func location(lead mission.Lead) string {
	if lead.Location != "" {
		return lead.Location
	}
	if lead.City != "" && lead.State != "" {
		return lead.City + ", " + lead.State
	}
	return lead.City + lead.State
}
