package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches rules in memory on top of a Repository.
//
// The cache is populated on startup via RefreshCache() and kept in sync by
// the CRUD methods. Returned rules are deep copies.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Rule
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new rule registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Rule),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all rules from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rules, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Rule, len(rules))
	for i := range rules {
		r.cache[rules[i].ID] = rules[i].DeepCopy()
	}

	r.logger.Info("rule cache refreshed", "count", len(rules))
	return nil
}

// GetRule retrieves a rule by ID.
func (r *Registry) GetRule(_ context.Context, id string) (*Rule, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrRuleNotFound
}

// GetRuleBySlug retrieves a rule by its slug.
func (r *Registry) GetRuleBySlug(_ context.Context, slug string) (*Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, rule := range r.cache {
		if rule.Slug == slug {
			return rule.DeepCopy(), nil
		}
	}
	return nil, ErrRuleNotFound
}

// ListRules returns every cached rule sorted by sort_order then name.
func (r *Registry) ListRules(_ context.Context) ([]Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rules := make([]Rule, 0, len(r.cache))
	for _, rule := range r.cache {
		rules = append(rules, *rule.DeepCopy())
	}
	sortRules(rules)
	return rules, nil
}

// Matching returns the enabled rules whose trigger selects a message from
// deviceUUID on topicKey. Conditions are not evaluated here.
func (r *Registry) Matching(deviceUUID, topicKey string) []Rule {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var rules []Rule
	for _, rule := range r.cache {
		if !rule.Enabled || rule.Trigger.DeviceUUID != deviceUUID {
			continue
		}
		if rule.Trigger.TopicKey != "" && rule.Trigger.TopicKey != topicKey {
			continue
		}
		rules = append(rules, *rule.DeepCopy())
	}
	sortRules(rules)
	return rules
}

func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].SortOrder != rules[j].SortOrder {
			return rules[i].SortOrder < rules[j].SortOrder
		}
		return rules[i].Name < rules[j].Name
	})
}

// CreateRule validates, persists, and caches a new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = GenerateID()
	}
	if rule.Slug == "" {
		rule.Slug = GenerateSlug(rule.Name)
	}
	for i := range rule.Actions {
		if rule.Actions[i].SortOrder == 0 {
			rule.Actions[i].SortOrder = i
		}
	}

	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule created", "id", rule.ID, "name", rule.Name)
	return nil
}

// UpdateRule validates, persists, and updates the cached rule.
func (r *Registry) UpdateRule(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule updated", "id", rule.ID, "name", rule.Name)
	return nil
}

// DeleteRule removes a rule from persistence and cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("rule deleted", "id", id)
	return nil
}

// RuleCount returns the number of cached rules.
func (r *Registry) RuleCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
