package topic

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Separator delimits topic levels.
	Separator = "/"
	// SingleLevel matches exactly one topic level.
	SingleLevel = "+"
	// MultiLevel matches the remaining topic levels, including none.
	MultiLevel = "#"
)

var (
	// errEmptyPattern is returned for an empty subscription pattern.
	errEmptyPattern = errors.New("pattern is empty")
	// errMultiLevelNotLast is returned when '#' is followed by more levels.
	errMultiLevelNotLast = errors.New("'#' must be the last level")
	// errWildcardInLevel is returned when a wildcard shares a level with other characters.
	errWildcardInLevel = errors.New("wildcard must occupy a whole level")
)

// Matches reports whether topic matches the subscription pattern.
//
// Levels are compared one by one: '+' matches any single level, '#' matches
// every remaining level (including none) and is only honoured as the final
// pattern level. Any other level, the empty one included, must be equal.
func Matches(pattern, topic string) bool {
	if pattern == topic {
		return !strings.Contains(pattern, MultiLevel) || isTerminalMultiLevel(pattern)
	}

	patternLevels := strings.Split(pattern, Separator)
	topicLevels := strings.Split(topic, Separator)

	for i, level := range patternLevels {
		if level == MultiLevel {
			return i == len(patternLevels)-1
		}

		if i >= len(topicLevels) {
			return false
		}

		if level != SingleLevel && level != topicLevels[i] {
			return false
		}
	}

	return len(patternLevels) == len(topicLevels)
}

// MatchesAny reports whether topic matches at least one of the patterns.
func MatchesAny(patterns []string, topic string) bool {
	for _, pattern := range patterns {
		if Matches(pattern, topic) {
			return true
		}
	}

	return false
}

// Valid checks that the pattern is a well-formed subscription pattern.
func Valid(pattern string) error {
	if pattern == "" {
		return errEmptyPattern
	}

	levels := strings.Split(pattern, Separator)
	for i, level := range levels {
		switch {
		case level == MultiLevel && i != len(levels)-1:
			return fmt.Errorf("%q: %w", pattern, errMultiLevelNotLast)
		case level != MultiLevel && level != SingleLevel &&
			strings.ContainsAny(level, SingleLevel+MultiLevel):
			return fmt.Errorf("%q: %w", pattern, errWildcardInLevel)
		}
	}

	return nil
}

// Level returns the topic level at index, or false when it does not exist.
func Level(topic string, index int) (string, bool) {
	if index < 0 {
		return "", false
	}

	levels := strings.Split(topic, Separator)
	if index >= len(levels) {
		return "", false
	}

	return levels[index], true
}

// isTerminalMultiLevel reports whether '#' appears only as the last level.
func isTerminalMultiLevel(pattern string) bool {
	levels := strings.Split(pattern, Separator)
	for i, level := range levels {
		if level == MultiLevel && i != len(levels)-1 {
			return false
		}
	}

	return true
}
