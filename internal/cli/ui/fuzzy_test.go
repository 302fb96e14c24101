package ui

import (
	"reflect"
	"testing"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1       string
		s2       string
		expected int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"test", "tset", 2},
		{"demo", "dev", 2},
		{"production", "prodution", 1},
	}

	for _, tt := range tests {
		t.Run(tt.s1+"_"+tt.s2, func(t *testing.T) {
			result := LevenshteinDistance(tt.s1, tt.s2)
			if result != tt.expected {
				t.Errorf("LevenshteinDistance(%q, %q) = %d; want %d", tt.s1, tt.s2, result, tt.expected)
			}
		})
	}
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{"dev", "test", "demo", "production", "Staging"}

	tests := []struct {
		name     string
		target   string
		opts     *FuzzyMatchOptions
		expected []string
	}{
		{"transposition", "tset", nil, []string{"test", "dev"}},
		{"typo", "prodution", nil, []string{"production"}},
		{"case insensitive", "staging", nil, []string{"Staging"}},
		{"case sensitive", "staging", &FuzzyMatchOptions{CaseSensitive: true, MaxDistance: 0}, []string{"Staging"}},
		{"nothing close", "warehouse", nil, []string{}},
		{"limited", "dmo", &FuzzyMatchOptions{MaxSuggestions: 1}, []string{"demo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FindSimilar(tt.target, candidates, tt.opts)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("FindSimilar(%q) = %v; want %v", tt.target, result, tt.expected)
			}
		})
	}
}
