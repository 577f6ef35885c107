package app

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"proctor-engine/internal/domain"
)

// RawQuestion is one question as returned by a generation service, before normalization.
type RawQuestion map[string]any

var (
	bracketTag    = regexp.MustCompile(`^\s*\[[^\]]*\]\s*`)
	samplePrefix  = regexp.MustCompile(`(?i)\bsample\s+question\s+#?\d+\b`)
	optionLabel   = regexp.MustCompile(`^\s*[\(\[]?[A-Da-d][\)\].:-]?\s+`)
	singleLetter  = regexp.MustCompile(`^(?i)[A-D]$`)
	correctFields = []string{"correctAnswer", "answerIndex", "correct", "answer", "key", "correctOption", "correct_choice", "solution"}
)

// NormalizeMCQ cleans generated multiple-choice questions. Questions without text or options
// are dropped; an empty result is a valid empty session.
func NormalizeMCQ(raw []RawQuestion, technology, difficulty string) []domain.Question {
	topicSuffix := regexp.MustCompile(`(?i)\s*\(\s*` + regexp.QuoteMeta(technology) + `\s*\)$`)
	cleanOption := func(s string) string {
		s = strings.TrimSpace(topicSuffix.ReplaceAllString(s, ""))
		return strings.TrimSpace(optionLabel.ReplaceAllString(s, ""))
	}

	out := make([]domain.Question, 0, len(raw))
	for i, q := range raw {
		text := strings.TrimSpace(bracketTag.ReplaceAllString(q.firstString("question", "prompt", "text", "q"), ""))
		text = strings.TrimSpace(samplePrefix.ReplaceAllString(text, ""))

		var options []string
		for _, o := range q.firstList("options", "choices", "answers") {
			options = append(options, cleanOption(stringify(o)))
		}
		if text == "" || len(options) == 0 {
			continue
		}

		id := q.firstString("id", "questionId")
		if id == "" {
			id = fmt.Sprintf("q-%d", i+1)
		}
		out = append(out, domain.Question{
			ID:           id,
			Type:         domain.AssessmentMCQ,
			Prompt:       text,
			Options:      options,
			CorrectIndex: correctIndex(q, options, cleanOption),
			Technology:   technology,
			Difficulty:   difficulty,
		})
	}
	return out
}

// correctIndex resolves a correct answer given as a 1-based or 0-based number, a letter A-D, the
// option text, or a numeric string.
func correctIndex(q RawQuestion, options []string, clean func(string) string) *int {
	var cand any
	for _, f := range correctFields {
		if v, ok := q[f]; ok && v != nil {
			cand = v
			break
		}
	}

	fromNumber := func(n int) *int {
		if n >= 1 && n <= len(options) {
			n--
		}
		if n < 0 || n >= len(options) {
			return nil
		}
		return &n
	}

	switch v := cand.(type) {
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) || v != math.Trunc(v) {
			return nil
		}
		return fromNumber(int(v))
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil
		}
		return fromNumber(int(n))
	case int:
		return fromNumber(v)
	case string:
		s := strings.TrimSpace(v)
		if singleLetter.MatchString(s) {
			idx := int(strings.ToUpper(s)[0] - 'A')
			if idx < len(options) {
				return &idx
			}
			return nil
		}
		want := strings.ToLower(clean(s))
		for i, o := range options {
			if strings.ToLower(strings.TrimSpace(o)) == want {
				idx := i
				return &idx
			}
		}
		if n, err := strconv.Atoi(s); err == nil {
			return fromNumber(n)
		}
	}
	return nil
}

// NormalizeCoding maps generated coding problems. Problems without a title are dropped.
func NormalizeCoding(raw []RawQuestion, technology, difficulty, language string) []domain.Question {
	out := make([]domain.Question, 0, len(raw))
	for i, q := range raw {
		title := strings.TrimSpace(q.firstString("title"))
		if title == "" {
			continue
		}
		id := q.firstString("id")
		if id == "" {
			id = fmt.Sprintf("p-%d", i+1)
		}
		p := domain.Question{
			ID:          id,
			Type:        domain.AssessmentCoding,
			Title:       title,
			Prompt:      q.firstString("description"),
			Description: q.firstString("description"),
			Difficulty:  orDefault(q.firstString("difficulty"), difficulty),
			Technology:  orDefault(q.firstString("technology"), technology),
			StarterCode: map[string]string{},
		}
		for _, e := range q.firstList("examples") {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			ex := RawQuestion(m)
			p.Examples = append(p.Examples, domain.Example{
				Input:       ex.firstString("input"),
				Output:      ex.firstString("output"),
				Explanation: ex.firstString("explanation"),
			})
		}
		for _, c := range q.firstList("constraints") {
			p.Constraints = append(p.Constraints, stringify(c))
		}
		if starters, ok := q["starterCode"].(map[string]any); ok {
			for lang, code := range starters {
				p.StarterCode[lang] = stringify(code)
			}
		}
		if s := q.firstString("starter"); s != "" && language != "" {
			p.StarterCode[language] = s
		}
		out = append(out, p)
	}
	return out
}

// NormalizeInterview maps generated interview prompts, defaulting the per-question limit.
func NormalizeInterview(raw []RawQuestion, technology string, defaultLimitSeconds int) []domain.Question {
	out := make([]domain.Question, 0, len(raw))
	for i, q := range raw {
		text := strings.TrimSpace(q.firstString("question", "prompt", "text"))
		if text == "" {
			continue
		}
		id := q.firstString("id")
		if id == "" {
			id = fmt.Sprintf("i-%d", i+1)
		}
		limit := defaultLimitSeconds
		if n, ok := q["timeLimit"].(float64); ok && n > 0 {
			limit = int(n)
		}
		iq := domain.Question{
			ID:               id,
			Type:             domain.AssessmentInterview,
			Prompt:           text,
			SpokenPrompt:     q.firstString("spokenPrompt"),
			Category:         q.firstString("category"),
			Technology:       technology,
			TimeLimitSeconds: limit,
		}
		for _, tip := range q.firstList("tips") {
			iq.Tips = append(iq.Tips, stringify(tip))
		}
		out = append(out, iq)
	}
	return out
}

// TwoSumProblem is the built-in problem used when generation yields nothing.
func TwoSumProblem(language string) domain.Question {
	if language == "" {
		language = "javascript"
	}
	return domain.Question{
		ID:         "two-sum",
		Type:       domain.AssessmentCoding,
		Title:      "Two Sum",
		Difficulty: "Easy",
		Prompt:     "Given an array of integers nums and an integer target, return indices of the two numbers such that they add up to target.",
		Description: "Given an array of integers nums and an integer target, return indices of the two numbers " +
			"such that they add up to target.",
		Examples: []domain.Example{{
			Input:       "nums = [2,7,11,15], target = 9",
			Output:      "[0,1]",
			Explanation: "Because nums[0] + nums[1] == 9, we return [0, 1].",
		}},
		Constraints: []string{
			"2 <= nums.length <= 10^4",
			"-10^9 <= nums[i] <= 10^9",
			"-10^9 <= target <= 10^9",
		},
		StarterCode: map[string]string{
			language: StarterFor(language, "twoSum"),
		},
		Technology: "JavaScript",
	}
}

// StarterFor is the deterministic placeholder shown for a language without starter code.
func StarterFor(language, name string) string {
	if name == "" {
		name = "solution"
	}
	switch strings.ToLower(language) {
	case "javascript", "js", "typescript", "ts":
		return "function " + name + "(nums, target) {\n    // Your code here\n}"
	case "python", "py":
		return "def " + name + "(nums, target):\n    # Your code here\n    pass"
	case "java":
		return "class Solution {\n    // Your code here\n}"
	case "go", "golang":
		return "package main\n\n// Your code here\n"
	case "cpp", "c++":
		return "#include <vector>\n\n// Your code here\n"
	}
	return "// Your code here\n"
}

func (q RawQuestion) firstString(keys ...string) string {
	for _, k := range keys {
		if v, ok := q[k]; ok && v != nil {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func (q RawQuestion) firstList(keys ...string) []any {
	for _, k := range keys {
		if list, ok := q[k].([]any); ok && len(list) > 0 {
			return list
		}
	}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
