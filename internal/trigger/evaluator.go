package trigger

import (
	"fmt"
	"regexp"

	"github.com/oshokin/mqtt-alarm/internal/config"
	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
	"github.com/oshokin/mqtt-alarm/internal/topic"
)

// Rule is a trigger rule ready for evaluation.
type Rule struct {
	// Index is the position of the rule in its profile.
	Index int
	// Topics are the subscription patterns of the rule.
	Topics []string
	// Pattern is the compiled payload regex.
	Pattern *regexp.Regexp
	// Notify lists the channels to notify when the rule fires.
	Notify config.Notify
}

// Match describes a fired rule.
type Match struct {
	// Mode is the profile the rule belongs to.
	Mode domain.Mode
	// Rule is the fired rule.
	Rule *Rule
	// Topic is the topic of the triggering message.
	Topic string
	// Text is the substring matched by the rule regex.
	Text string
}

// Evaluator selects the first rule of the active profile matching a message.
//
// Rules are tried in configured order. The regex of a rule only runs when one
// of its topic patterns matches, so traffic on unrelated topics never pays for
// regex evaluation.
type Evaluator struct {
	// rules holds the ordered rules per profile.
	rules map[domain.Mode][]*Rule
	// onRegex is invoked before each regex evaluation; used by tests.
	onRegex func(*Rule)
}

// NewEvaluator builds an evaluator from the armedHome/armedAway profiles.
func NewEvaluator(cfg *config.Config) (*Evaluator, error) {
	e := &Evaluator{
		rules: make(map[domain.Mode][]*Rule, 2), //nolint:mnd // Two profiles.
	}

	profiles := map[domain.Mode]*config.ModeConfig{
		domain.ModeHome: &cfg.ArmedHome,
		domain.ModeAway: &cfg.ArmedAway,
	}

	for mode, profile := range profiles {
		rules := make([]*Rule, 0, len(profile.Triggers))

		for i := range profile.Triggers {
			trigger := &profile.Triggers[i]

			pattern, err := trigger.Pattern()
			if err != nil {
				return nil, &config.Error{
					Field: fmt.Sprintf("%s trigger #%d regex", mode, i),
					Err:   err,
				}
			}

			rules = append(rules, &Rule{
				Index:   i,
				Topics:  trigger.Topics,
				Pattern: pattern,
				Notify:  trigger.Notify,
			})
		}

		e.rules[mode] = rules
	}

	return e, nil
}

// Evaluate returns the first rule of the mode whose topic patterns match the
// topic and whose regex matches the payload.
func (e *Evaluator) Evaluate(mode domain.Mode, msgTopic string, payload []byte) (*Match, bool) {
	for _, rule := range e.rules[mode] {
		if !topic.MatchesAny(rule.Topics, msgTopic) {
			continue
		}

		if e.onRegex != nil {
			e.onRegex(rule)
		}

		location := rule.Pattern.FindIndex(payload)
		if location == nil {
			continue
		}

		return &Match{
			Mode:  mode,
			Rule:  rule,
			Topic: msgTopic,
			Text:  string(payload[location[0]:location[1]]),
		}, true
	}

	return nil, false
}

// Rules returns the ordered rules of a profile.
func (e *Evaluator) Rules(mode domain.Mode) []*Rule {
	return e.rules[mode]
}

// Topics returns every distinct topic pattern used by any rule, in profile
// order (HOME first), for subscription.
func (e *Evaluator) Topics() []string {
	var (
		seen   = make(map[string]struct{})
		result []string
	)

	for _, mode := range []domain.Mode{domain.ModeHome, domain.ModeAway} {
		for _, rule := range e.rules[mode] {
			for _, pattern := range rule.Topics {
				if _, ok := seen[pattern]; ok {
					continue
				}

				seen[pattern] = struct{}{}
				result = append(result, pattern)
			}
		}
	}

	return result
}
