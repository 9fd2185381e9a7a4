package flow

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// ExtractionSource names the stage of the class-info chain that produced a descriptor.
type ExtractionSource string

const (
	SourceStructured ExtractionSource = "structured"
	SourceAnswer     ExtractionSource = "answer"
	SourceUtterance  ExtractionSource = "utterance"
	SourceSentence   ExtractionSource = "sentence"
)

const monthPattern = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	answerClassRe   = regexp.MustCompile(`(?i)\bclass_?\s*:\s*([^\s,;|]+)`)
	answerSectionRe = regexp.MustCompile(`(?i)\bsection\s*:\s*([^\s,;|]+)`)
	answerDateRe    = regexp.MustCompile(`(?i)\bdate\s*:\s*([^\n,;|]+)`)

	utteranceClassRe = regexp.MustCompile(`(?i)\b(?:class|grade|standard|std)\.?\s*[:\-]?\s*(nursery|lkg|ukg|kg|\d{1,2}|[ivx]{1,4})(?:\s*-?\s*([a-z]))?\b`)
	bareClassRe      = regexp.MustCompile(`(?i)\b(nursery|lkg|ukg)\b`)
	sectionWordRe    = regexp.MustCompile(`(?i)\bsection\s*[:\-]?\s*([a-z])\b`)
	capitalLetterRe  = regexp.MustCompile(`\b([A-H])\b`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{4}-\d{1,2}-\d{1,2})\b`),
		regexp.MustCompile(`\b(\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4})\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2}(?:st|nd|rd|th)?\s+` + monthPattern + `,?\s+\d{4})\b`),
		regexp.MustCompile(`(?i)\b(` + monthPattern + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`),
		regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday)\b`),
	}

	sentencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bclass\s+(\S+)\s+([a-z])\s+for\s+(.+?)\s*[.!?]?$`),
		regexp.MustCompile(`(?i)\bclass\s+(\S+)\s+section\s+([a-z])\s+(?:for\s+|on\s+)?(.+?)\s*[.!?]?$`),
	}
)

// ExtractClassInfo runs the class-info chain: the structured endpoint result, then the endpoint answer,
// then the raw utterance, then whole-sentence patterns. The first stage yielding all three fields wins.
// The returned descriptor is normalized.
func ExtractClassInfo(structured *models.ClassDescriptor, answer, utterance string) (models.ClassDescriptor, ExtractionSource, bool) {
	if structured != nil && structured.Complete() {
		return structured.Normalized(), SourceStructured, true
	}
	if c := extractFromAnswer(answer); c.Complete() {
		return c.Normalized(), SourceAnswer, true
	}
	if c := extractFromUtterance(utterance); c.Complete() {
		return c.Normalized(), SourceUtterance, true
	}
	if c := extractFromSentence(utterance); c.Complete() {
		return c.Normalized(), SourceSentence, true
	}
	return models.ClassDescriptor{}, "", false
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func findDate(s string) string {
	for _, re := range datePatterns {
		if d := firstGroup(re, s); d != "" {
			return d
		}
	}
	return ""
}

func extractFromAnswer(answer string) models.ClassDescriptor {
	text := strings.ReplaceAll(answer, "*", "")
	if strings.TrimSpace(text) == "" {
		return models.ClassDescriptor{}
	}
	c := models.ClassDescriptor{
		Class:   firstGroup(answerClassRe, text),
		Section: firstGroup(answerSectionRe, text),
	}
	if d := findDate(text); d != "" {
		c.Date = d
	} else {
		c.Date = firstGroup(answerDateRe, text)
	}
	return c
}

func extractFromUtterance(utterance string) models.ClassDescriptor {
	var c models.ClassDescriptor
	if m := utteranceClassRe.FindStringSubmatch(utterance); m != nil {
		c.Class = m[1]
		if len(m) > 2 {
			c.Section = m[2]
		}
	} else {
		c.Class = firstGroup(bareClassRe, utterance)
	}
	if s := firstGroup(sectionWordRe, utterance); s != "" {
		c.Section = s
	}
	if c.Section == "" {
		c.Section = firstGroup(capitalLetterRe, utterance)
	}
	c.Date = findDate(utterance)
	return c
}

func extractFromSentence(utterance string) models.ClassDescriptor {
	u := strings.TrimSpace(utterance)
	for _, re := range sentencePatterns {
		m := re.FindStringSubmatch(u)
		if len(m) == 4 {
			return models.ClassDescriptor{Class: m[1], Section: m[2], Date: m[3]}
		}
	}
	return models.ClassDescriptor{}
}
